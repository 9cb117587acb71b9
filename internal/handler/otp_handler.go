package handler

import (
	"net/http"
	"time"

	"github.com/hitoshi/tenantdesk/internal/logger"
	"github.com/hitoshi/tenantdesk/internal/middleware"
	"github.com/hitoshi/tenantdesk/internal/model"
)

type phoneRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type codeRequest struct {
	Code string `json:"code"`
}

// challengeResponse は確認チャレンジの表示用表現。電話番号は末尾4桁以外を伏せる。
type challengeResponse struct {
	ID          string     `json:"id,omitempty"`
	PhoneNumber string     `json:"phone_number,omitempty"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	Message     string     `json:"message,omitempty"`
}

func toChallengeResponse(ch model.OtpChallenge) challengeResponse {
	resp := challengeResponse{
		ID:       ch.ID,
		Status:   string(ch.Status),
		Attempts: ch.Attempts,
		Message:  ch.Message,
	}
	if ch.PhoneNumber != "" {
		resp.PhoneNumber = logger.MaskPhone(ch.PhoneNumber)
	}
	if !ch.SentAt.IsZero() {
		sent := ch.SentAt.UTC()
		resp.SentAt = &sent
	}
	return resp
}

// OTPHandler は電話番号確認フローのHTTPハンドラー。
type OTPHandler struct {
	flow OTPFlowInterface
}

// NewOTPHandler はOTPHandlerを生成する。
func NewOTPHandler(flow OTPFlowInterface) *OTPHandler {
	return &OTPHandler{flow: flow}
}

// GetChallenge は現在の確認チャレンジを返す。
// GET /otp
func (h *OTPHandler) GetChallenge(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toChallengeResponse(h.flow.Challenge()))
}

// SubmitPhone は確認コードを送信する。再送も同じエンドポイントで受け付ける。
// POST /otp/phone
func (h *OTPHandler) SubmitPhone(w http.ResponseWriter, r *http.Request) {
	var req phoneRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ch, err := h.flow.SubmitPhone(r.Context(), req.PhoneNumber)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toChallengeResponse(ch))
}

// SubmitCode は確認コードを検証する。成功するとセッションがログイン済みになる。
// POST /otp/code
func (h *OTPHandler) SubmitCode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ch, err := h.flow.SubmitCode(r.Context(), req.Code)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toChallengeResponse(ch))
}

// Abandon は現在のチャレンジを破棄する。応答待ちの結果は反映されなくなる。
// DELETE /otp
func (h *OTPHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	h.flow.Abandon()
	w.WriteHeader(http.StatusNoContent)
}
