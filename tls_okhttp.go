package main

import (
	"github.com/bogdanfinn/fhttp/http2"
	"github.com/bogdanfinn/tls-client/profiles"
	tls "github.com/bogdanfinn/utls"
)

const (
	AppUserAgent = "Skland/1.21.0 (com.hypergryph.skland; build:102100065; Android 33; ) Okhttp/4.11.0"
	AppPlatform  = "1"
	AppVName     = "1.21.0"
)

// SklandAndroidProfile is the app profile for the Android client build the
// API currently accepts.
var SklandAndroidProfile = &AppProfile{
	UserAgent: AppUserAgent,
	Platform:  AppPlatform,
	VName:     AppVName,
}

// okhttpAndroidProfile reproduces the OkHttp/conscrypt handshake of the
// Android app. Unlike browser hellos there is no GREASE and the extension
// order is fixed, so the order below is part of the fingerprint.
var okhttpAndroidProfile = profiles.NewClientProfile(
	tls.ClientHelloID{
		Client:               "OkHttp",
		RandomExtensionOrder: false,
		Version:              "4",
		Seed:                 nil,
		SpecFactory:          okhttpClientHelloSpec,
	},
	map[http2.SettingID]uint32{
		http2.SettingInitialWindowSize: 16777216,
	},
	[]http2.SettingID{
		http2.SettingInitialWindowSize,
	},
	[]string{
		":method",
		":path",
		":authority",
		":scheme",
	},
	16711681,
	nil,
	nil,
)

func okhttpClientHelloSpec() (tls.ClientHelloSpec, error) {
	return tls.ClientHelloSpec{
		CipherSuites: []uint16{
			tls.TLS_AES_128_GCM_SHA256,
			tls.TLS_AES_256_GCM_SHA384,
			tls.TLS_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA,
			tls.TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
			tls.TLS_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_RSA_WITH_AES_128_CBC_SHA,
			tls.TLS_RSA_WITH_AES_256_CBC_SHA,
		},
		CompressionMethods: []byte{
			tls.CompressionNone,
		},
		Extensions: []tls.TLSExtension{
			&tls.SNIExtension{},
			&tls.ExtendedMasterSecretExtension{},
			&tls.RenegotiationInfoExtension{
				Renegotiation: tls.RenegotiateOnceAsClient,
			},
			&tls.SupportedCurvesExtension{Curves: []tls.CurveID{
				tls.X25519,
				tls.CurveP256,
				tls.CurveP384,
			}},
			&tls.SupportedPointsExtension{SupportedPoints: []byte{
				tls.PointFormatUncompressed,
			}},
			&tls.SessionTicketExtension{},
			&tls.ALPNExtension{AlpnProtocols: []string{
				"h2",
				"http/1.1",
			}},
			&tls.StatusRequestExtension{},
			&tls.SignatureAlgorithmsExtension{SupportedSignatureAlgorithms: []tls.SignatureScheme{
				tls.ECDSAWithP256AndSHA256,
				tls.PSSWithSHA256,
				tls.PKCS1WithSHA256,
				tls.ECDSAWithP384AndSHA384,
				tls.PSSWithSHA384,
				tls.PKCS1WithSHA384,
				tls.PSSWithSHA512,
				tls.PKCS1WithSHA512,
				tls.PKCS1WithSHA1,
			}},
			&tls.KeyShareExtension{KeyShares: []tls.KeyShare{
				{Group: tls.X25519},
			}},
			&tls.PSKKeyExchangeModesExtension{Modes: []uint8{
				tls.PskModeDHE,
			}},
			&tls.SupportedVersionsExtension{Versions: []uint16{
				tls.VersionTLS13,
				tls.VersionTLS12,
			}},
		},
	}, nil
}

func init() {
	SklandAndroidProfile.TLSProfile = okhttpAndroidProfile
}
