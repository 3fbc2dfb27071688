package solar

import (
	"math"
	"time"

	"github.com/AMD-AGI/Skylapse/brain/pkg/config"
)

// Elevation returns the solar elevation angle in degrees at the given
// instant. NOAA low-accuracy formulas; well within the ±60 s / fractional
// degree resolution the exposure engine needs.
func Elevation(loc config.Location, at time.Time) float64 {
	utc := at.UTC()

	// Julian centuries since J2000.0.
	jd := julianDay(utc)
	t := (jd - 2451545.0) / 36525.0

	// Geometric mean longitude and anomaly of the sun, degrees.
	l0 := math.Mod(280.46646+t*(36000.76983+t*0.0003032), 360)
	m := 357.52911 + t*(35999.05029-0.0001537*t)
	mRad := deg2rad(m)

	// Equation of center and true longitude.
	c := math.Sin(mRad)*(1.914602-t*(0.004817+0.000014*t)) +
		math.Sin(2*mRad)*(0.019993-0.000101*t) +
		math.Sin(3*mRad)*0.000289
	trueLong := l0 + c

	// Apparent longitude, corrected for nutation.
	omega := 125.04 - 1934.136*t
	lambda := trueLong - 0.00569 - 0.00478*math.Sin(deg2rad(omega))

	// Obliquity of the ecliptic.
	epsilon0 := 23.0 + (26.0+(21.448-t*(46.815+t*(0.00059-t*0.001813)))/60.0)/60.0
	epsilon := epsilon0 + 0.00256*math.Cos(deg2rad(omega))

	// Solar declination.
	declRad := math.Asin(math.Sin(deg2rad(epsilon)) * math.Sin(deg2rad(lambda)))

	// Equation of time, minutes.
	y := math.Tan(deg2rad(epsilon/2)) * math.Tan(deg2rad(epsilon/2))
	eqTime := 4 * rad2deg(y*math.Sin(2*deg2rad(l0))-
		2*0.016708634*math.Sin(mRad)+
		4*0.016708634*y*math.Sin(mRad)*math.Cos(2*deg2rad(l0))-
		0.5*y*y*math.Sin(4*deg2rad(l0))-
		1.25*0.016708634*0.016708634*math.Sin(2*mRad))

	// True solar time and hour angle.
	minutes := float64(utc.Hour())*60 + float64(utc.Minute()) + float64(utc.Second())/60
	trueSolarTime := math.Mod(minutes+eqTime+4*loc.Longitude, 1440)
	hourAngle := trueSolarTime/4 - 180
	if trueSolarTime < 0 {
		hourAngle = trueSolarTime/4 + 180
	}

	latRad := deg2rad(loc.Latitude)
	zenithCos := math.Sin(latRad)*math.Sin(declRad) +
		math.Cos(latRad)*math.Cos(declRad)*math.Cos(deg2rad(hourAngle))
	zenithCos = math.Max(-1, math.Min(1, zenithCos))

	return 90 - rad2deg(math.Acos(zenithCos))
}

func julianDay(t time.Time) float64 {
	y := t.Year()
	m := int(t.Month())
	if m <= 2 {
		y--
		m += 12
	}
	a := y / 100
	b := 2 - a + a/4
	dayFrac := float64(t.Day()) +
		(float64(t.Hour())+float64(t.Minute())/60+float64(t.Second())/3600)/24
	return math.Floor(365.25*float64(y+4716)) +
		math.Floor(30.6001*float64(m+1)) +
		dayFrac + float64(b) - 1524.5
}

func deg2rad(d float64) float64 { return d * math.Pi / 180 }

func rad2deg(r float64) float64 { return r * 180 / math.Pi }
