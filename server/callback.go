package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/sns-oauth/instrumentation"
	"github.com/giantswarm/sns-oauth/internal/util"
	"github.com/giantswarm/sns-oauth/providers"
	"github.com/giantswarm/sns-oauth/security"
)

// maxRemoteErrorLength bounds the provider error parameter kept in logs and outcomes
const maxRemoteErrorLength = 256

// errPanic marks a failure recovered from a panic.
var errPanic = errors.New("panic recovered")

// errHook marks a failure returned by an Events hook.
var errHook = errors.New("events hook failed")

// HandleCallback processes the provider's redirect back to the return path.
//
// It always returns a non-nil outcome. Requests for other paths yield
// NotApplicable. Every failure, including panics raised while redeeming the
// code or in host hooks, becomes a Failed outcome. The response is left to
// the caller unless an Events hook set Handled.
func (s *Server) HandleCallback(w http.ResponseWriter, r *http.Request) *CallbackOutcome {
	if !s.IsReturnPath(r) {
		return notApplicable(s.provider.Name)
	}

	browser := s.provider.DetectBrowser(r.UserAgent())

	ctx, span := s.startSpan(r, "callback", browser)
	defer span.End()
	r = r.WithContext(ctx)

	outcome := s.processCallback(w, r, browser)
	s.report(ctx, span, r, outcome)
	return outcome
}

func (s *Server) processCallback(w http.ResponseWriter, r *http.Request, browser providers.BrowserContext) *CallbackOutcome {
	out := &CallbackOutcome{Kind: Failed, Provider: s.provider.Name, Browser: browser}
	query := r.URL.Query()

	props, err := s.codec.Unprotect(query.Get("state"))
	if err != nil {
		out.Reason = ReasonInvalidState
		out.Err = err

		eventType := security.EventInvalidState
		if errors.Is(err, security.ErrStateExpired) {
			eventType = security.EventStateExpired
		}
		s.Auditor.LogStateRejected(eventType, s.provider.Name, "", s.clientIP(r), err.Error())
		if s.instrumentation != nil {
			s.instrumentation.Metrics().RecordStateRejected(r.Context(), s.provider.Name, ReasonInvalidState)
		}
		return out
	}

	target := props.RedirectURI
	if browser == providers.InClientBrowser {
		target = query.Get(ReturnURLParameter)
	}
	out.RedirectURI = s.checkRedirect(r, target, props.FlowID)

	forwarded := props.Clone()
	forwarded.RedirectURI = ""
	out.Properties = forwarded

	if s.provider.RequiresCorrelation(browser) {
		if err := s.guard.Check(w, r, s.provider.Name, props); err != nil {
			out.Reason = ReasonCSRF
			out.Err = err

			s.Auditor.LogStateRejected(security.EventCorrelationMismatch, s.provider.Name, props.FlowID, s.clientIP(r), err.Error())
			if s.instrumentation != nil {
				s.instrumentation.Metrics().RecordStateRejected(r.Context(), s.provider.Name, ReasonCSRF)
			}
			return s.returnEndpoint(w, r, out)
		}
	}

	code := query.Get("code")
	if code == "" {
		if remote := query.Get("error"); remote != "" {
			out.Reason = ReasonRemoteError
			out.RemoteError = util.SafeTruncate(remote, maxRemoteErrorLength)
			out.Err = fmt.Errorf("provider returned error %q", out.RemoteError)
		} else {
			out.Reason = ReasonMissingCode
			out.Err = errors.New("callback carries no authorization code")
		}
		return s.returnEndpoint(w, r, out)
	}

	identity, err := s.redeem(r, code, browser, forwarded)
	if err != nil {
		out.Reason = failureReason(err)
		out.Err = err
		return s.returnEndpoint(w, r, out)
	}

	out.Kind = Completed
	out.Identity = identity
	return s.returnEndpoint(w, r, out)
}

// redeem exchanges code, assembles the identity and runs the Authenticated
// hook. Panics are converted to errors.
func (s *Server) redeem(r *http.Request, code string, browser providers.BrowserContext, props *security.FlowProperties) (identity *Identity, err error) {
	defer s.recoverInto(&err, "exchange")

	result, err := s.exchanger.Exchange(r.Context(), s.provider, code, browser)
	if err != nil {
		return nil, err
	}

	identity, err = AssembleIdentity(s.provider, result, s.now())
	if err != nil {
		return nil, err
	}

	ac := &AuthenticatedContext{
		Request:    r,
		Identity:   identity,
		Properties: props,
		Browser:    browser,
	}
	if err := s.Events.Authenticated(r.Context(), ac); err != nil {
		return nil, fmt.Errorf("%w: authenticated: %v", errHook, err)
	}
	return identity, nil
}

// returnEndpoint runs the ReturnEndpoint hook and applies its decisions to out.
func (s *Server) returnEndpoint(w http.ResponseWriter, r *http.Request, out *CallbackOutcome) *CallbackOutcome {
	rc := &ReturnEndpointContext{
		Request:     r,
		Response:    w,
		Identity:    out.Identity,
		Properties:  out.Properties,
		RedirectURI: out.RedirectURI,
	}

	err := func() (err error) {
		defer s.recoverInto(&err, "return endpoint hook")
		if hookErr := s.Events.ReturnEndpoint(r.Context(), rc); hookErr != nil {
			return fmt.Errorf("%w: return endpoint: %v", errHook, hookErr)
		}
		return nil
	}()

	out.Handled = rc.Handled
	if rc.RedirectURI != out.RedirectURI {
		out.RedirectURI = s.checkRedirect(r, rc.RedirectURI, flowIDOf(out.Properties))
	}

	if err != nil && out.Kind == Completed {
		out.Kind = Failed
		out.Identity = nil
		out.Reason = failureReason(err)
		out.Err = err
	}
	return out
}

// recoverInto turns a panic into *errp and logs the stack.
func (s *Server) recoverInto(errp *error, stage string) {
	if rec := recover(); rec != nil {
		s.Logger.Error("Recovered panic in login flow",
			"stage", stage,
			"panic", fmt.Sprint(rec),
			"stack", string(debug.Stack()))
		*errp = fmt.Errorf("%w in %s: %v", errPanic, stage, rec)
	}
}

// checkRedirect returns target if it stays on the request's host, else "".
func (s *Server) checkRedirect(r *http.Request, target, flowID string) string {
	if target == "" {
		return ""
	}
	if !s.isLocalRedirect(r, target) {
		s.Auditor.LogStateRejected(security.EventInvalidRedirect, s.provider.Name, flowID, s.clientIP(r), "redirect target is not local")
		return ""
	}
	return target
}

// report logs, audits and records metrics for a finished callback.
func (s *Server) report(ctx context.Context, span trace.Span, r *http.Request, out *CallbackOutcome) {
	flowID := flowIDOf(out.Properties)
	ip := s.clientIP(r)
	logger := security.RequestLogger(r.Context(), s.Logger)

	instrumentation.AddOutcomeAttributes(span, out.Kind.String(), out.Reason)
	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordCallbackProcessed(ctx, s.provider.Name, out.Kind.String(), out.Reason)
	}

	switch {
	case out.Kind == Completed:
		instrumentation.SetSpanSuccess(span)
		s.Auditor.LogLoginSucceeded(out.Identity.SubjectID, s.provider.Name, flowID, ip, out.Browser.String())
		logger.Info("Login completed",
			"flow_id", flowID,
			"browser", out.Browser.String(),
			"subject_hash", security.HashForLogging(out.Identity.SubjectID))

	case out.Reason == ReasonRemoteError:
		// A declined consent is an expected user decision, not a fault.
		instrumentation.SetSpanSuccess(span)
		s.Auditor.LogProviderDeclined(s.provider.Name, flowID, ip, out.RemoteError)
		logger.Info("Provider returned an error",
			"flow_id", flowID,
			"error", out.RemoteError)

	case out.Reason == ReasonInvalidState || out.Reason == ReasonCSRF:
		// Already audited as integrity events.
		instrumentation.SetSpanError(span, out.Reason)
		logger.Warn("Rejected callback",
			"flow_id", flowID,
			"reason", out.Reason,
			"error", out.Err)

	default:
		instrumentation.RecordError(span, out.Err)
		s.Auditor.LogLoginFailed(s.provider.Name, flowID, ip, out.Reason)
		logger.Warn("Login failed",
			"flow_id", flowID,
			"reason", out.Reason,
			"error", out.Err)
	}
}

// failureReason maps a redeem error to an outcome reason.
func failureReason(err error) string {
	switch {
	case errors.Is(err, errPanic):
		return ReasonInternalError
	case errors.Is(err, errHook):
		return ReasonHookFailed
	case errors.Is(err, ErrSubjectUnresolvable):
		return ReasonSubjectUnresolved
	default:
		return ReasonExchangeFailed
	}
}

func flowIDOf(props *security.FlowProperties) string {
	if props == nil {
		return ""
	}
	return props.FlowID
}
