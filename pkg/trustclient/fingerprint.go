package trustclient

// Fingerprint mirrors the identity snapshot the service stores for a
// device. Field names follow the wire format.
type Fingerprint struct {
	Platform     string `json:"platform"`
	DeviceID     string `json:"device_id"`
	Model        string `json:"model"`
	Manufacturer string `json:"manufacturer"`
	OSVersion    string `json:"os_version"`
	AppVersion   string `json:"app_version"`
	ScreenWidth  int    `json:"screen_width"`
	ScreenHeight int    `json:"screen_height"`
	RAMMB        int    `json:"ram_mb"`
}

// Prober exposes the device facts a platform shim can read natively.
type Prober interface {
	Platform() string
	DeviceID() string
	Model() string
	Manufacturer() string
	OSVersion() string
	AppVersion() string
	ScreenSize() (width, height int)
	RAMMB() int
}

// FingerprintCollector turns a Prober into the fingerprint snapshot the
// registration and scan endpoints expect.
type FingerprintCollector struct {
	prober Prober
}

func NewFingerprintCollector(prober Prober) *FingerprintCollector {
	return &FingerprintCollector{prober: prober}
}

func (c *FingerprintCollector) Collect() Fingerprint {
	width, height := c.prober.ScreenSize()
	return Fingerprint{
		Platform:     c.prober.Platform(),
		DeviceID:     c.prober.DeviceID(),
		Model:        c.prober.Model(),
		Manufacturer: c.prober.Manufacturer(),
		OSVersion:    c.prober.OSVersion(),
		AppVersion:   c.prober.AppVersion(),
		ScreenWidth:  width,
		ScreenHeight: height,
		RAMMB:        c.prober.RAMMB(),
	}
}
