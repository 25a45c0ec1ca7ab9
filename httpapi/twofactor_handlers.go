package httpapi

import (
	"net/http"
	"time"
)

type codeRequest struct {
	Code string `json:"code"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

type setupResponse struct {
	Secret        string   `json:"secret"`
	URI           string   `json:"otpauthUrl"`
	RecoveryCodes []string `json:"recoveryCodes"`
}

func (s *Server) handleTwoFactorState(w http.ResponseWriter, r *http.Request) {
	state, err := s.engine.TwoFactorState(r.Context(), decision(r).Identity)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeData(w, map[string]string{"state": string(state)})
}

func (s *Server) handleTwoFactorSetup(w http.ResponseWriter, r *http.Request) {
	setup, err := s.engine.BeginTwoFactor(r.Context(), decision(r).Identity)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeData(w, setupResponse{Secret: setup.Secret, URI: setup.URI, RecoveryCodes: setup.RecoveryCodes})
}

func (s *Server) handleTwoFactorEnable(w http.ResponseWriter, r *http.Request) {
	code, ok := readCode(w, r)
	if !ok {
		return
	}
	if err := s.engine.EnableTwoFactor(r.Context(), decision(r).Identity, code); err != nil {
		WriteError(w, r, err)
		return
	}
	writeData(w, map[string]bool{"enabled": true})
}

func (s *Server) handleTwoFactorDisable(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := readJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	if err := required(map[string]string{"password": req.Password}); err != nil {
		WriteError(w, r, err)
		return
	}
	if err := s.engine.DisableTwoFactor(r.Context(), decision(r).Identity, req.Password); err != nil {
		WriteError(w, r, err)
		return
	}
	writeData(w, map[string]bool{"enabled": false})
}

func (s *Server) handleTwoFactorRecovery(w http.ResponseWriter, r *http.Request) {
	code, ok := readCode(w, r)
	if !ok {
		return
	}
	codes, err := s.engine.RegenerateRecoveryCodes(r.Context(), decision(r).Identity, code)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeData(w, map[string][]string{"recoveryCodes": codes})
}

// handleTwoFactorSMS issues a code and hands it to the SMS sender. The code
// itself never appears in the response.
func (s *Server) handleTwoFactorSMS(w http.ResponseWriter, r *http.Request) {
	if s.sms == nil {
		WriteError(w, r, ErrNotFound)
		return
	}
	tok, err := s.engine.IssueSMSCode(r.Context(), decision(r).Identity)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if err := s.sms.SendCode(r.Context(), tok); err != nil {
		WriteError(w, r, ErrStoreUnavailable.WithCause(err))
		return
	}
	writeData(w, map[string]time.Time{"expiresAt": tok.ExpiresAt})
}

func (s *Server) handleTwoFactorSMSVerify(w http.ResponseWriter, r *http.Request) {
	code, ok := readCode(w, r)
	if !ok {
		return
	}
	if err := s.engine.VerifySMSCode(r.Context(), decision(r).Identity, code); err != nil {
		WriteError(w, r, err)
		return
	}
	writeData(w, map[string]bool{"verified": true})
}

func readCode(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req codeRequest
	if err := readJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return "", false
	}
	if err := required(map[string]string{"code": req.Code}); err != nil {
		WriteError(w, r, err)
		return "", false
	}
	return req.Code, true
}
