package main

import (
	"fmt"
	"strings"
)

// SignInOutcome is the result of one binding's attendance call.
type SignInOutcome struct {
	Binding   GameBinding
	Succeeded bool
	Message   string
}

// TokenReport aggregates the outcomes for one account token, in binding
// order. Failed means the token never got through to its bindings (or lost
// its credential mid-run); the synthetic outcome carries the reason.
type TokenReport struct {
	Token    string // masked, never the raw token
	Failed   bool
	Outcomes []SignInOutcome
}

// Runner processes account tokens strictly one at a time. The API is served
// per account and the job is a daily check-in; concurrency would only trip
// rate limits.
type Runner struct {
	cfg     *Config
	factory *DeviceFactory
	logger  Logger
	dial    func() (httpDoer, error)
}

func NewRunner(cfg *Config, factory *DeviceFactory, logger Logger) *Runner {
	return &Runner{
		cfg:     cfg,
		factory: factory,
		logger:  logger,
		dial: func() (httpDoer, error) {
			return NewClient(nil, cfg.ProxyURL, cfg.TimeoutSeconds)
		},
	}
}

// session bundles the per-identity plumbing: one device, one transport, one
// signer.
type session struct {
	api       *SklandClient
	exchanger *Exchanger
}

func (r *Runner) newSession(logger Logger) (*session, error) {
	identity, err := r.factory.Generate()
	if err != nil {
		return nil, err
	}
	logger.Log("device identity %s", identity.ID)

	transport, err := r.dial()
	if err != nil {
		return nil, err
	}

	api := NewSklandClient(transport, NewSigner(identity.ID), NewRetrier(r.cfg.MaxRetries, logger), logger)
	return &session{
		api:       api,
		exchanger: NewExchanger(api, r.factory, identity, logger),
	}, nil
}

// tokenLogger wraps a logger with a masked account prefix.
type tokenLogger struct {
	masked string
	base   Logger
}

func (t *tokenLogger) Log(format string, args ...any) {
	t.base.Log("[%s] "+format, append([]any{t.masked}, args...)...)
}

// RunAll processes every token in order and returns one report per token, in
// the same order. A token's failure never touches its neighbours; only a
// failure to stand up the shared plumbing aborts the batch.
func (r *Runner) RunAll(tokens []string) ([]TokenReport, error) {
	reports := make([]TokenReport, 0, len(tokens))

	var shared *session
	if r.cfg.DeviceMode == DeviceModePerRun {
		s, err := r.newSession(r.logger)
		if err != nil {
			return reports, err
		}
		shared = s
	}

	for i, token := range tokens {
		logger := &tokenLogger{masked: MaskToken(token), base: r.logger}
		logger.Log("account %d/%d", i+1, len(tokens))

		sess := shared
		if sess == nil {
			s, err := r.newSession(logger)
			if err != nil {
				return reports, err
			}
			sess = s
		}

		reports = append(reports, r.runToken(sess, logger, token))
	}

	return reports, nil
}

// RunOne runs the flow for a single token outside the configured set. Used by
// the login command to vet a token before adding it to the daily list.
func (r *Runner) RunOne(token string) (TokenReport, error) {
	logger := &tokenLogger{masked: MaskToken(token), base: r.logger}
	sess, err := r.newSession(logger)
	if err != nil {
		return TokenReport{}, err
	}
	return r.runToken(sess, logger, token), nil
}

// runToken drives the credential chain and every attendance call for one
// token. Each rejection incident gets exactly one credential re-exchange;
// a rejection of the freshly exchanged credential abandons the token.
func (r *Runner) runToken(sess *session, logger Logger, token string) TokenReport {
	report := TokenReport{Token: MaskToken(token)}

	cred, err := sess.exchanger.Obtain(token)
	if err != nil {
		logger.Log("credential exchange failed: %v", err)
		return failedReport(token, err)
	}

	bindings, err := sess.api.ListBindings(cred)
	if IsAuthRejection(err) {
		logger.Log("credential rejected on binding list, re-running exchange")
		cred, err = sess.exchanger.Obtain(token)
		if err == nil {
			bindings, err = sess.api.ListBindings(cred)
		}
	}
	if err != nil {
		logger.Log("binding list failed: %v", err)
		return failedReport(token, err)
	}
	if len(bindings) == 0 {
		logger.Log("no bound characters, nothing to sign in")
		return report
	}

	for _, binding := range bindings {
		cred, err = sess.exchanger.Ensure(token, cred)
		if err != nil {
			logger.Log("credential refresh failed: %v", err)
			report.Outcomes = append(report.Outcomes, failedOutcome(binding, err))
			continue
		}

		res, err := sess.api.Attend(cred, binding)
		if IsAuthRejection(err) {
			logger.Log("credential rejected on attendance, re-running exchange")
			cred, err = sess.exchanger.Obtain(token)
			if err == nil {
				res, err = sess.api.Attend(cred, binding)
			}
		}
		if IsAuthRejection(err) {
			logger.Log("credential rejected again, abandoning token")
			report.Failed = true
			report.Outcomes = append(report.Outcomes, failedOutcome(binding, err))
			break
		}

		outcome := classify(binding, res, err)
		if outcome.Succeeded {
			logger.Log("%s (%s): %s", binding.Game.Label(), binding.Nickname, outcome.Message)
		} else {
			logger.Log("%s (%s) failed: %s", binding.Game.Label(), binding.Nickname, outcome.Message)
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}

	return report
}

// classify converts one attendance result or error into an outcome. Claiming
// a reward that was already claimed today counts as success.
func classify(binding GameBinding, res *AttendanceResult, err error) SignInOutcome {
	switch {
	case err == nil:
		return SignInOutcome{Binding: binding, Succeeded: true, Message: awardSummary(res.Awards)}
	case IsAlreadyAttended(err):
		return SignInOutcome{Binding: binding, Succeeded: true, Message: "already signed in today"}
	default:
		return failedOutcome(binding, err)
	}
}

func awardSummary(awards []AttendanceAward) string {
	if len(awards) == 0 {
		return "signed in"
	}
	parts := make([]string, 0, len(awards))
	for _, a := range awards {
		parts = append(parts, fmt.Sprintf("%s x%d", a.Resource.Name, a.Count))
	}
	return "signed in: " + strings.Join(parts, ", ")
}

// failureMessage renders an error for the report, flagging failures where no
// answer ever came back from the server.
func failureMessage(err error) string {
	if IsRetryableError(err) {
		return "network failure: " + err.Error()
	}
	return err.Error()
}

func failedOutcome(binding GameBinding, err error) SignInOutcome {
	return SignInOutcome{Binding: binding, Message: failureMessage(err)}
}

// failedReport marks a whole token as failed with a single synthetic outcome.
func failedReport(token string, err error) TokenReport {
	return TokenReport{
		Token:    MaskToken(token),
		Failed:   true,
		Outcomes: []SignInOutcome{{Message: failureMessage(err)}},
	}
}
