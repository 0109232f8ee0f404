package main

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/hmac"
	"crypto/md5"
	crand "crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/rand"
	"time"

	"github.com/emmansun/gmsm/padding"
	"github.com/google/uuid"
)

// =============================================================================
// Fingerprint attributes
// =============================================================================

// deviceModels holds brand/model pairs sampled into generated fingerprints.
// Pairs must stay coherent; the server cross-checks brand against model.
var deviceModels = []struct {
	Brand string
	Model string
}{
	{"Xiaomi", "M2102J2SC"},
	{"Xiaomi", "2201123C"},
	{"Xiaomi", "23013RK75C"},
	{"Redmi", "M2012K11AC"},
	{"Redmi", "22041211AC"},
	{"HUAWEI", "ELS-AN00"},
	{"HUAWEI", "NOH-AN01"},
	{"HONOR", "ANY-AN00"},
	{"OPPO", "PGBM10"},
	{"OPPO", "PHM110"},
	{"vivo", "V2183A"},
	{"vivo", "V2254A"},
	{"OnePlus", "PHB110"},
	{"samsung", "SM-G9910"},
	{"samsung", "SM-S9080"},
}

var screenResolutions = []string{
	"1080x2400",
	"1080x2376",
	"1176x2400",
	"1200x2640",
	"1220x2712",
	"1440x3200",
}

var androidReleases = []string{"11", "12", "13", "14"}

var screenDensities = []int{320, 360, 420, 440, 480, 560}

// DeviceFingerprint is the simulated client environment serialized into the
// encrypted payload. GeneratedAt and BootTime carry wall clock, so two
// generations in the same run usually differ.
type DeviceFingerprint struct {
	Platform    string `json:"platform"`
	OS          string `json:"os"`
	OSVersion   string `json:"osVersion"`
	Brand       string `json:"brand"`
	Model       string `json:"model"`
	Resolution  string `json:"resolution"`
	Density     int    `json:"density"`
	Locale      string `json:"locale"`
	Timezone    string `json:"timezone"`
	AppVersion  string `json:"appVersion"`
	InstallID   string `json:"installId"`
	SessionID   string `json:"sessionId"`
	SensorHash  string `json:"sensorHash"`
	BootTime    int64  `json:"bootTime"`
	GeneratedAt int64  `json:"timestamp"`
}

// sensorHash stands in for the accelerometer/gyroscope sample digest the
// real client derives; the server only checks shape, not provenance.
func sensorHash() string {
	sum := md5.Sum([]byte(uuid.New().String()))
	return hex.EncodeToString(sum[:])
}

func randomFingerprint() DeviceFingerprint {
	pick := deviceModels[rand.Intn(len(deviceModels))]
	now := time.Now()

	return DeviceFingerprint{
		Platform:    AppPlatform,
		OS:          "Android",
		OSVersion:   androidReleases[rand.Intn(len(androidReleases))],
		Brand:       pick.Brand,
		Model:       pick.Model,
		Resolution:  screenResolutions[rand.Intn(len(screenResolutions))],
		Density:     screenDensities[rand.Intn(len(screenDensities))],
		Locale:      "zh-CN",
		Timezone:    "Asia/Shanghai",
		AppVersion:  AppVName,
		InstallID:   uuid.New().String(),
		SessionID:   uuid.New().String(),
		SensorHash:  sensorHash(),
		BootTime:    now.Add(-time.Duration(rand.Intn(72)+1) * time.Hour).UnixMilli(),
		GeneratedAt: now.UnixMilli(),
	}
}

// =============================================================================
// Device identity
// =============================================================================

// DeviceIdentity is the generated identifier plus the encrypted fingerprint
// blob. ID goes into the dId header; Payload is what the identifier was
// derived from and what the server decodes to vet the client.
type DeviceIdentity struct {
	ID      string
	Payload string
}

// Fixed IVs of the fingerprint pipeline. They are part of the wire scheme,
// not a confidentiality measure; the ciphertext only has to match what the
// server decodes.
var (
	desIV = []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	aesIV = []byte("0102030405060708")
)

// defaultAttestKeyPEM is the server's published attestation key. The grant
// handshake encrypts a short device nonce against it so later exchanges can
// use symmetric signing only.
const defaultAttestKeyPEM = `-----BEGIN PUBLIC KEY-----
MIIBIjANBgkqhkiG9w0BAQEFAAOCAQ8AMIIBCgKCAQEAq9ZW5sRU+BsKAyJJVN7p
sStNO5eNdd/0IkTXzQaXWjLRDKf3iEea/LR3kcUDcW0T/LCZ+VUArpC1GIyLh4RZ
yqhznBnJEfgZFqTZSiTopnamT2w/oSNaaqDNIw4UHs+xtz18qmJd/d0xbdsx0LUF
mGx74MxUzYzmxcnBHT5Ru/et4k5ghceUYB1eod7Szldi1YoRTIKWrhiA9d4hnsJg
maddb4jW1QkOZjUXqQECQufoXjBU7APMjEUD7Z/2IJjiFmgepFHkbsMEsLgDuI4L
rsHeJNVBKgRtyf1214mv4+0IzTKIpYXzk1EmwgD5uTc/ROdCDYVktH+U0DKWtSyZ
FwIDAQAB
-----END PUBLIC KEY-----`

// DeviceFactory produces device identities from a validated app secret. The
// same factory can serve one identity for a whole run or one per account,
// depending on configuration.
type DeviceFactory struct {
	aesKey    []byte
	desKey    []byte
	attestKey *rsa.PublicKey
}

// NewDeviceFactory validates the app secret and attestation key up front.
// A bad secret is fatal: nothing in a run can proceed without a device
// identity the server will accept.
func NewDeviceFactory(appSecret, attestKeyPEM string) (*DeviceFactory, error) {
	if len(appSecret) != aes.BlockSize {
		return nil, NewFatalError(fmt.Errorf("device app secret must be %d bytes, got %d", aes.BlockSize, len(appSecret)))
	}

	sum := md5.Sum([]byte(appSecret))
	desKey := append(sum[:], sum[:8]...)

	attestKey, err := parseAttestKey(attestKeyPEM)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("attestation key: %w", err))
	}

	return &DeviceFactory{
		aesKey:    []byte(appSecret),
		desKey:    desKey,
		attestKey: attestKey,
	}, nil
}

func parseAttestKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("expected RSA public key, got %T", pub)
	}
	return rsaPub, nil
}

// Generate produces a fresh device identity. The fingerprint is serialized,
// run through 3DES-CBC, re-encrypted with AES-128-CBC keyed by the app
// secret, and sealed with an MD5 checksum over the AES ciphertext. The dId
// is "B" plus the checksum in hex.
func (f *DeviceFactory) Generate() (*DeviceIdentity, error) {
	plain, err := json.Marshal(randomFingerprint())
	if err != nil {
		return nil, err
	}

	inner, err := f.encrypt3DES(plain)
	if err != nil {
		return nil, err
	}
	outer, err := f.encryptAES(inner)
	if err != nil {
		return nil, err
	}

	checksum := md5.Sum(outer)
	blob := append(outer, checksum[:]...)

	return &DeviceIdentity{
		ID:      "B" + hex.EncodeToString(checksum[:]),
		Payload: base64.StdEncoding.EncodeToString(blob),
	}, nil
}

// Decode reverses the pipeline and verifies the integrity checksum. Used to
// validate generated payloads; the server runs the same checks.
func (f *DeviceFactory) Decode(payload string) (*DeviceFingerprint, error) {
	blob, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if len(blob) < md5.Size+aes.BlockSize {
		return nil, fmt.Errorf("payload too short: %d bytes", len(blob))
	}

	outer, checksum := blob[:len(blob)-md5.Size], blob[len(blob)-md5.Size:]
	sum := md5.Sum(outer)
	if !hmac.Equal(sum[:], checksum) {
		return nil, fmt.Errorf("payload checksum mismatch")
	}

	inner, err := f.decryptAES(outer)
	if err != nil {
		return nil, err
	}
	plain, err := f.decrypt3DES(inner)
	if err != nil {
		return nil, err
	}

	var fp DeviceFingerprint
	if err := json.Unmarshal(plain, &fp); err != nil {
		return nil, fmt.Errorf("decode fingerprint: %w", err)
	}
	return &fp, nil
}

// Attest encrypts the device identifier plus a one-time nonce against the
// server's attestation key. Sent once per grant handshake; every later
// exchange relies on symmetric signing.
func (f *DeviceFactory) Attest(deviceID string) (string, error) {
	nonce := make([]byte, 8)
	if _, err := crand.Read(nonce); err != nil {
		return "", err
	}

	msg := deviceID + "|" + hex.EncodeToString(nonce)
	ct, err := rsa.EncryptPKCS1v15(crand.Reader, f.attestKey, []byte(msg))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// =============================================================================
// Pipeline stages
// =============================================================================

func (f *DeviceFactory) encrypt3DES(plain []byte) ([]byte, error) {
	block, err := des.NewTripleDESCipher(f.desKey)
	if err != nil {
		return nil, err
	}
	padded := padding.NewPKCS7Padding(uint(block.BlockSize())).Pad(plain)

	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, desIV).CryptBlocks(out, padded)
	return out, nil
}

func (f *DeviceFactory) decrypt3DES(ct []byte) ([]byte, error) {
	block, err := des.NewTripleDESCipher(f.desKey)
	if err != nil {
		return nil, err
	}
	if len(ct) == 0 || len(ct)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("inner ciphertext not block aligned: %d bytes", len(ct))
	}

	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, desIV).CryptBlocks(out, ct)
	return padding.NewPKCS7Padding(uint(block.BlockSize())).Unpad(out)
}

func (f *DeviceFactory) encryptAES(plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(f.aesKey)
	if err != nil {
		return nil, err
	}
	padded := padding.NewPKCS7Padding(uint(block.BlockSize())).Pad(plain)

	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, aesIV).CryptBlocks(out, padded)
	return out, nil
}

func (f *DeviceFactory) decryptAES(ct []byte) ([]byte, error) {
	block, err := aes.NewCipher(f.aesKey)
	if err != nil {
		return nil, err
	}
	if len(ct) == 0 || len(ct)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("outer ciphertext not block aligned: %d bytes", len(ct))
	}

	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, aesIV).CryptBlocks(out, ct)
	return padding.NewPKCS7Padding(uint(block.BlockSize())).Unpad(out)
}
