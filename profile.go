package main

import (
	"github.com/bogdanfinn/fhttp/http2"
	"github.com/bogdanfinn/tls-client/profiles"
	tls "github.com/bogdanfinn/utls"
)

// The studio API is spoken as the Android app's WebView, but with a desktop
// Mac user agent: Mac clients are challenged noticeably less often.
const (
	SunoUserAgent  = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36"
	SunoSecChUa    = `"Chromium";v="130", "Android WebView";v="130", "Not?A_Brand";v="99"`
	SunoClientName = "Android prerelease-4nt180t 1.0.42"
	SunoRequestApp = "com.suno.android"
)

// BrowserProfile bundles a TLS client profile with its corresponding browser headers.
type BrowserProfile struct {
	TLSProfile profiles.ClientProfile
	UserAgent  string
	SecChUa    string
	Platform   string
	Mobile     string
}

// SunoProfile is the identity every client presents to the remote service.
var SunoProfile = &BrowserProfile{
	UserAgent: SunoUserAgent,
	SecChUa:   SunoSecChUa,
	Platform:  `"Android"`,
	Mobile:    "?1",
}

// chrome130Hello is the ClientHello of the Chromium build the headers claim.
var chrome130Hello tls.ClientHelloID = profiles.Chrome_130_PSK.GetClientHelloId()

var androidWebViewTLSProfile = profiles.NewClientProfile(
	chrome130Hello,
	map[http2.SettingID]uint32{
		http2.SettingHeaderTableSize:   65536,
		http2.SettingEnablePush:        0,
		http2.SettingInitialWindowSize: 6291456,
		http2.SettingMaxHeaderListSize: 262144,
	},
	[]http2.SettingID{
		http2.SettingHeaderTableSize,
		http2.SettingEnablePush,
		http2.SettingInitialWindowSize,
		http2.SettingMaxHeaderListSize,
	},
	PseudoHeaderOrder,
	15663105,
	nil,
	nil,
)

func init() {
	SunoProfile.TLSProfile = androidWebViewTLSProfile
}
