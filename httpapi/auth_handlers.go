package httpapi

import (
	"net/http"
	"time"

	authkernel "github.com/Mosleh92/exchange-platform-v3-sub012"
)

type loginRequest struct {
	TenantID   string `json:"tenantId"`
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	DeviceID   string `json:"deviceId"`
}

type twoFactorLoginRequest struct {
	ChallengeID string `json:"challengeId"`
	Code        string `json:"code"`
	DeviceID    string `json:"deviceId"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
	DeviceID     string `json:"deviceId"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
	SessionID    string `json:"sessionId"`
	All          bool   `json:"all"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type tokenResponse struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
	SessionID        string    `json:"sessionId"`
	DeviceID         string    `json:"deviceId"`
}

type principalResponse struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenantId"`
	Identifier string `json:"identifier"`
	Role       string `json:"role"`
	BranchID   string `json:"branchId,omitempty"`
}

type loginResponse struct {
	Tokens            *tokenResponse     `json:"tokens,omitempty"`
	RequiresTwoFactor bool               `json:"requiresTwoFactor"`
	ChallengeID       string             `json:"challengeId,omitempty"`
	ChallengeExpires  *time.Time         `json:"challengeExpiresAt,omitempty"`
	Principal         *principalResponse `json:"principal,omitempty"`
}

type sessionResponse struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"deviceId"`
	UserAgent   string    `json:"userAgent,omitempty"`
	IP          string    `json:"ip,omitempty"`
	LoginAt     time.Time `json:"loginAt"`
	RefreshedAt time.Time `json:"refreshedAt,omitempty"`
	Current     bool      `json:"current"`
}

func toTokenResponse(p *authkernel.TokenPair) *tokenResponse {
	if p == nil {
		return nil
	}
	return &tokenResponse{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
		SessionID:        p.SessionID,
		DeviceID:         p.DeviceID,
	}
}

func toLoginResponse(res *authkernel.LoginResult) loginResponse {
	out := loginResponse{
		Tokens:            toTokenResponse(res.Tokens),
		RequiresTwoFactor: res.RequiresTwoFactor,
		ChallengeID:       res.ChallengeID,
	}
	if res.RequiresTwoFactor {
		exp := res.ChallengeExpires
		out.ChallengeExpires = &exp
	}
	if p := res.Principal; p != nil {
		out.Principal = &principalResponse{
			ID:         p.ID,
			TenantID:   p.TenantID,
			Identifier: p.Identifier,
			Role:       string(p.Role),
			BranchID:   p.BranchID,
		}
	}
	return out
}

// deviceID prefers an explicit body value over the X-Device-ID header.
func deviceID(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return authkernel.ClientInfoFromContext(r.Context()).DeviceID
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	if err := required(map[string]string{"tenantId": req.TenantID, "identifier": req.Identifier, "password": req.Password}); err != nil {
		WriteError(w, r, err)
		return
	}
	res, err := s.engine.Login(r.Context(), authkernel.LoginRequest{
		TenantID:   req.TenantID,
		Identifier: req.Identifier,
		Password:   req.Password,
		DeviceID:   deviceID(r, req.DeviceID),
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeData(w, toLoginResponse(res))
}

func (s *Server) handleLoginTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req twoFactorLoginRequest
	if err := readJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	if err := required(map[string]string{"challengeId": req.ChallengeID, "code": req.Code}); err != nil {
		WriteError(w, r, err)
		return
	}
	res, err := s.engine.CompleteTwoFactorLogin(r.Context(), req.ChallengeID, req.Code, deviceID(r, req.DeviceID))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeData(w, toLoginResponse(res))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := readJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	if err := required(map[string]string{"refreshToken": req.RefreshToken}); err != nil {
		WriteError(w, r, err)
		return
	}
	info := authkernel.ClientInfoFromContext(r.Context())
	info.DeviceID = deviceID(r, req.DeviceID)

	pair, err := s.engine.Refresh(r.Context(), req.RefreshToken, info)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeData(w, toTokenResponse(pair))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := readJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	d := decision(r)
	err := s.engine.Logout(r.Context(), d.Identity.Token, authkernel.LogoutOptions{
		RefreshToken: req.RefreshToken,
		SessionID:    req.SessionID,
		All:          req.All,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeData(w, map[string]bool{"loggedOut": true})
}

func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	d := decision(r)
	if err := s.engine.LogoutAll(r.Context(), d.Identity.Token); err != nil {
		WriteError(w, r, err)
		return
	}
	writeData(w, map[string]bool{"loggedOut": true})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	d := decision(r)
	list, err := s.engine.Sessions(r.Context(), d.Identity.PrincipalID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	out := make([]sessionResponse, 0, len(list))
	for _, sess := range list {
		out = append(out, sessionResponse{
			ID:          sess.ID,
			DeviceID:    sess.DeviceID,
			UserAgent:   sess.UserAgent,
			IP:          sess.IP,
			LoginAt:     sess.LoginAt,
			RefreshedAt: sess.RefreshedAt,
			Current:     sess.ID == d.Identity.SessionID,
		})
	}
	writeData(w, out)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := readJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	if err := required(map[string]string{"currentPassword": req.CurrentPassword, "newPassword": req.NewPassword}); err != nil {
		WriteError(w, r, err)
		return
	}
	d := decision(r)
	if err := s.engine.ChangePassword(r.Context(), d.Identity, req.CurrentPassword, req.NewPassword); err != nil {
		WriteError(w, r, err)
		return
	}
	writeData(w, map[string]bool{"changed": true})
}
