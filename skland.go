package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	http "github.com/bogdanfinn/fhttp"
)

const (
	oauthBaseURL = "https://as.hypergryph.com"
	zonaiBaseURL = "https://zonai.skland.com"

	oauthGrantPath         = "/user/oauth2/v2/grant"
	generateCredPath       = "/api/v1/user/auth/generate_cred_by_code"
	bindingListPath        = "/api/v1/game/player/binding"
	arkAttendancePath      = "/api/v1/game/attendance"
	endfieldAttendancePath = "/web/v1/game/endfield/attendance"

	// grantAppCode identifies this client build to the OAuth host.
	grantAppCode = "4ca99fa6b56cc2ba"
)

// Game is a supported sign-in target.
type Game string

const (
	GameArknights Game = "arknights"
	GameEndfield  Game = "endfield"
)

func gameByAppCode(appCode string) (Game, bool) {
	switch appCode {
	case string(GameArknights):
		return GameArknights, true
	case string(GameEndfield):
		return GameEndfield, true
	}
	return "", false
}

// attendancePath returns the game's attendance endpoint. Endfield lives
// under the web API tree, not the app one.
func (g Game) attendancePath() string {
	if g == GameEndfield {
		return endfieldAttendancePath
	}
	return arkAttendancePath
}

func (g Game) gameID() string {
	if g == GameEndfield {
		return "3"
	}
	return "1"
}

// Label is the game name used in report lines.
func (g Game) Label() string {
	if g == GameEndfield {
		return "Endfield"
	}
	return "Arknights"
}

// httpDoer is the slice of tls_client.HttpClient the API client needs.
// Narrow on purpose so tests can feed scripted transports.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// SklandClient issues the signed API calls of the sign-in flow. One client
// serves one device identity; signing secrets are passed per call because
// they rotate with the credential chain.
type SklandClient struct {
	client  httpDoer
	signer  *Signer
	retrier *Retrier
	logger  Logger
	profile *AppProfile
}

// NewSklandClient creates an API client bound to one device identity.
func NewSklandClient(client httpDoer, signer *Signer, retrier *Retrier, logger Logger) *SklandClient {
	return &SklandClient{
		client:  client,
		signer:  signer,
		retrier: retrier,
		logger:  logger,
		profile: DefaultProfile,
	}
}

// =============================================================================
// Envelopes
// =============================================================================

// oauthEnvelope is the {status,msg,data} dialect of the OAuth host. Status
// is a pointer so a response without the field fails loudly instead of
// reading as success.
type oauthEnvelope struct {
	Status *int            `json:"status"`
	Msg    string          `json:"msg"`
	Data   json.RawMessage `json:"data"`
}

// zonaiEnvelope is the {code,message,data} dialect of the game API host.
type zonaiEnvelope struct {
	Code    *int            `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func preview(body []byte) string {
	s := string(body)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// =============================================================================
// Request plumbing
// =============================================================================

// doRequest executes an HTTP request and logs the request URL and response
// status code. Bodies and headers never reach the log; they carry secrets.
func (c *SklandClient) doRequest(req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Log("%s %s -> error: %v", req.Method, req.URL.Path, err)
		return nil, err
	}
	c.logger.Log("%s %s -> %d", req.Method, req.URL.Path, resp.StatusCode)
	return resp, nil
}

func (c *SklandClient) roundTrip(req *http.Request) ([]byte, int, error) {
	resp, err := c.doRequest(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	bodyBytes, err := readResponseBody(resp)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return bodyBytes, resp.StatusCode, nil
}

// signedHeaders assembles the ordered header set every call carries. The
// server vets header order along with the signature, so the order list is
// part of the protocol.
func (c *SklandClient) signedHeaders(timestamp, signature, cred, gameRole string) http.Header {
	h := http.Header{
		"User-Agent":   {c.profile.UserAgent},
		"Accept":       {"application/json"},
		"Content-Type": {"application/json"},
		"Language":     {"zh-CN"},
		"Platform":     {c.profile.Platform},
		"Vname":        {c.profile.VName},
		"Timestamp":    {timestamp},
		"dId":          {c.signer.DeviceID},
		"Sign":         {signature},
		http.HeaderOrderKey: {
			"User-Agent",
			"Accept",
			"Content-Type",
			"Language",
			"Cred",
			"Platform",
			"Vname",
			"Timestamp",
			"dId",
			"Sign",
			"Sk-Game-Role",
			"Content-Length",
		},
		http.PHeaderOrderKey: PseudoHeaderOrder,
	}
	if cred != "" {
		h["Cred"] = []string{cred}
	}
	if gameRole != "" {
		h["Sk-Game-Role"] = []string{gameRole}
	}
	return h
}

func (c *SklandClient) newSignedRequest(method, baseURL, path string, body []byte, secret, cred, gameRole string) (*http.Request, error) {
	ts := Timestamp()

	payload := ""
	var reader io.Reader
	if body != nil {
		payload = string(body)
		reader = bytes.NewReader(body)
	}
	sig := c.signer.Sign(method, path, payload, ts, secret)

	req, err := http.NewRequest(method, baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header = c.signedHeaders(ts, sig, cred, gameRole)
	return req, nil
}

// zonaiCall runs one signed zonai request through the retry budget and
// decodes the envelope. Each attempt re-signs with a fresh timestamp.
// Non-zero codes surface as *APIError for the caller to classify; the retry
// executor itself treats every failure the same.
func zonaiCall[T any](c *SklandClient, method, path string, body []byte, secret, cred, gameRole string) (*T, error) {
	return execute(c.retrier, func() (*T, error) {
		req, err := c.newSignedRequest(method, zonaiBaseURL, path, body, secret, cred, gameRole)
		if err != nil {
			return nil, err
		}
		bodyBytes, statusCode, err := c.roundTrip(req)
		if err != nil {
			return nil, err
		}

		var env zonaiEnvelope
		if err := json.Unmarshal(bodyBytes, &env); err != nil {
			return nil, NewMalformedResponseError("%s %s: malformed response (status %d): %s", method, path, statusCode, preview(bodyBytes))
		}
		if env.Code == nil {
			return nil, NewMalformedResponseError("%s %s: response missing code (status %d): %s", method, path, statusCode, preview(bodyBytes))
		}
		if *env.Code != codeOK {
			return nil, NewAPIError(*env.Code, env.Message)
		}

		return decodeData[T](method, path, env.Data)
	})
}

// oauthCall is zonaiCall for the OAuth host, which speaks {status,msg,data}.
func oauthCall[T any](c *SklandClient, method, path string, body []byte, secret string) (*T, error) {
	return execute(c.retrier, func() (*T, error) {
		req, err := c.newSignedRequest(method, oauthBaseURL, path, body, secret, "", "")
		if err != nil {
			return nil, err
		}
		bodyBytes, statusCode, err := c.roundTrip(req)
		if err != nil {
			return nil, err
		}

		var env oauthEnvelope
		if err := json.Unmarshal(bodyBytes, &env); err != nil {
			return nil, NewMalformedResponseError("%s %s: malformed response (status %d): %s", method, path, statusCode, preview(bodyBytes))
		}
		if env.Status == nil {
			return nil, NewMalformedResponseError("%s %s: response missing status (status %d): %s", method, path, statusCode, preview(bodyBytes))
		}
		if *env.Status != codeOK {
			return nil, NewAPIError(*env.Status, env.Msg)
		}

		return decodeData[T](method, path, env.Data)
	})
}

func decodeData[T any](method, path string, raw json.RawMessage) (*T, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, NewMalformedResponseError("%s %s: response missing data", method, path)
	}
	var data T
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, NewMalformedResponseError("%s %s: decode data: %v", method, path, err)
	}
	return &data, nil
}

// =============================================================================
// OAuth grant
// =============================================================================

type grantRequest struct {
	AppCode      string `json:"appCode"`
	Token        string `json:"token"`
	Type         int    `json:"type"`
	DeviceAttest string `json:"deviceAttest,omitempty"`
	DeviceFp     string `json:"deviceFp,omitempty"`
}

// GrantResult carries the one-time authorization code for an account.
type GrantResult struct {
	Code string `json:"code"`
	UID  string `json:"uid"`
}

// GrantCode exchanges an account token for a one-time authorization code.
// Signed with the token itself; no credential exists yet at this point in
// the chain. deviceAttest is the RSA-sealed device nonce and deviceFp the
// encrypted fingerprint blob, both sent only here.
func (c *SklandClient) GrantCode(token, deviceAttest, deviceFp string) (*GrantResult, error) {
	body, err := json.Marshal(grantRequest{
		AppCode:      grantAppCode,
		Token:        token,
		Type:         0,
		DeviceAttest: deviceAttest,
		DeviceFp:     deviceFp,
	})
	if err != nil {
		return nil, err
	}

	res, err := oauthCall[GrantResult](c, http.MethodPost, oauthGrantPath, body, token)
	if err != nil {
		return nil, err
	}
	if res.Code == "" {
		return nil, fmt.Errorf("grant response missing authorization code")
	}
	return res, nil
}

// =============================================================================
// Credential generation
// =============================================================================

type credRequest struct {
	Code string `json:"code"`
	Kind int    `json:"kind"`
}

// CredResult is the session credential pair issued for an authorization
// code. Cred rides the Cred header; Token becomes the signing secret.
type CredResult struct {
	Cred   string `json:"cred"`
	UserID string `json:"userId"`
	Token  string `json:"token"`
}

// GenerateCred exchanges an authorization code for the session credential
// pair. Still signed with the account token; the issued credential token
// takes over as signing secret from here on.
func (c *SklandClient) GenerateCred(code, token string) (*CredResult, error) {
	body, err := json.Marshal(credRequest{Code: code, Kind: 1})
	if err != nil {
		return nil, err
	}

	res, err := zonaiCall[CredResult](c, http.MethodPost, generateCredPath, body, token, "", "")
	if err != nil {
		return nil, err
	}
	if res.Cred == "" || res.Token == "" {
		return nil, fmt.Errorf("credential response missing cred or token")
	}
	return res, nil
}

// =============================================================================
// Bindings
// =============================================================================

type bindingData struct {
	List []struct {
		AppCode     string `json:"appCode"`
		AppName     string `json:"appName"`
		BindingList []struct {
			UID             string `json:"uid"`
			ChannelMasterID string `json:"channelMasterId"`
			ChannelName     string `json:"channelName"`
			NickName        string `json:"nickName"`
			IsDefault       bool   `json:"isDefault"`
		} `json:"bindingList"`
	} `json:"list"`
}

// GameBinding is one sign-in target: a character bound to the account in a
// supported game.
type GameBinding struct {
	Game     Game
	UID      string
	Nickname string
	Channel  string
}

// ListBindings fetches every bound character across the supported games, in
// server order. Unknown games are skipped and logged rather than failed; a
// new title appearing on the account must not break daily runs for the known
// ones.
func (c *SklandClient) ListBindings(cred *CredentialSet) ([]GameBinding, error) {
	data, err := zonaiCall[bindingData](c, http.MethodGet, bindingListPath, nil, cred.CredentialToken, cred.SessionCredential, "")
	if err != nil {
		return nil, err
	}

	var bindings []GameBinding
	for _, app := range data.List {
		game, ok := gameByAppCode(app.AppCode)
		if !ok {
			c.logger.Log("skipping unsupported app %q (%s)", app.AppCode, app.AppName)
			continue
		}
		for _, b := range app.BindingList {
			if b.UID == "" {
				return nil, fmt.Errorf("binding list: %s entry missing uid", app.AppCode)
			}
			bindings = append(bindings, GameBinding{
				Game:     game,
				UID:      b.UID,
				Nickname: b.NickName,
				Channel:  b.ChannelName,
			})
		}
	}
	return bindings, nil
}

// =============================================================================
// Attendance
// =============================================================================

type attendanceRequest struct {
	UID    string `json:"uid"`
	GameID string `json:"gameId"`
}

// AttendanceAward is one reward line from a claimed sign-in.
type AttendanceAward struct {
	Count    int `json:"count"`
	Resource struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"resource"`
}

// AttendanceResult is the decoded attendance payload.
type AttendanceResult struct {
	Awards []AttendanceAward `json:"awards"`
}

// Attend claims today's sign-in for one binding. Endfield additionally wants
// the role uid duplicated into the Sk-Game-Role header.
func (c *SklandClient) Attend(cred *CredentialSet, binding GameBinding) (*AttendanceResult, error) {
	body, err := json.Marshal(attendanceRequest{
		UID:    binding.UID,
		GameID: binding.Game.gameID(),
	})
	if err != nil {
		return nil, err
	}

	gameRole := ""
	if binding.Game == GameEndfield {
		gameRole = binding.UID
	}

	return zonaiCall[AttendanceResult](c, http.MethodPost, binding.Game.attendancePath(), body, cred.CredentialToken, cred.SessionCredential, gameRole)
}
