// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package errors

const (
	CodeInvalidArgument int = 4001

	CodeInternalError int = 5000
	CodeDatabaseError int = 5002

	CodeNodeTransient int = 6001
	CodeNodeHTTP      int = 6002

	CodeConfigInvalid  int = 7001
	CodeConfigIO       int = 7002
	CodeSolarNoEvent   int = 7003

	CodeWorkerRetryable int = 8001
	CodeWorkerTerminal  int = 8002
	CodeEncoderFailed   int = 8003
)
