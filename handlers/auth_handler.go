package handlers

import (
	"net/http"
	"time"

	"github.com/Dosada05/club-system/middleware"
	"github.com/Dosada05/club-system/services"
)

type AuthHandler struct {
	authService  services.AuthService
	secureCookie bool
}

func NewAuthHandler(authService services.AuthService, secureCookie bool) *AuthHandler {
	return &AuthHandler{
		authService:  authService,
		secureCookie: secureCookie,
	}
}

type signInRequest struct {
	Assertion string `json:"assertion" validate:"required"`
}

// SignIn
// @Summary Вход по подтверждению провайдера идентификации
// @Tags auth
// @Description Активный участник получает сессию. Для остальных возвращается состояние заявки на вступление.
// @Accept json
// @Produce json
// @Param body body signInRequest true "Подписанное подтверждение провайдера"
// @Success 200 {object} services.SignInResult
// @Failure 400 {object} map[string]string "Ошибка валидации"
// @Failure 401 {object} map[string]string "Недействительное подтверждение"
// @Failure 403 {object} map[string]string "Аккаунт отключен или удален"
// @Failure 500 {object} map[string]string "Внутренняя ошибка сервера"
// @Router /auth/session [post]
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var input signInRequest
	if !decodeAndValidate(w, r, &input) {
		return
	}

	result, err := h.authService.SignIn(r.Context(), input.Assertion)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if result.Token != "" && result.ExpiresAt != nil {
		http.SetCookie(w, &http.Cookie{
			Name:     middleware.SessionCookieName,
			Value:    result.Token,
			Path:     "/",
			Expires:  *result.ExpiresAt,
			HttpOnly: true,
			Secure:   h.secureCookie,
			SameSite: http.SameSiteLaxMode,
		})
	}
	respond(w, r, http.StatusOK, result)
}

// SignOut
// @Summary Выход
// @Tags auth
// @Description Отзывает текущую сессию и очищает cookie.
// @Success 204 "Сессия завершена"
// @Failure 401 {object} map[string]string "Неавторизован"
// @Failure 500 {object} map[string]string "Внутренняя ошибка сервера"
// @Security BearerAuth
// @Router /auth/session [delete]
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	sessionID, err := middleware.GetSessionIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}

	if err := h.authService.SignOut(r.Context(), sessionID); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}
