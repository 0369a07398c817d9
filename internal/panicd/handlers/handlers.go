package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/panicattack/panicd/internal/panicd/errs"
	"github.com/panicattack/panicd/internal/panicd/geo"
	"github.com/panicattack/panicd/internal/panicd/logger"
	"github.com/panicattack/panicd/internal/panicd/middleware"
	"github.com/panicattack/panicd/internal/panicd/models"
	"github.com/panicattack/panicd/internal/panicd/repository"
	"github.com/panicattack/panicd/internal/panicd/service"
)

// Handler handles all HTTP requests
type Handler struct {
	Repo        repository.Repository
	Alerts      *service.AlertService
	Ledger      *service.LedgerService
	Withdrawals *service.WithdrawalService
	Settings    *service.SettingsService
	Log         *logger.Logger
	JWTSecret   string

	validate *validator.Validate
}

// NewHandler creates a new handler
func NewHandler(repo repository.Repository, alerts *service.AlertService, ledger *service.LedgerService, withdrawals *service.WithdrawalService, settings *service.SettingsService, log *logger.Logger, jwtSecret string) *Handler {
	return &Handler{
		Repo:        repo,
		Alerts:      alerts,
		Ledger:      ledger,
		Withdrawals: withdrawals,
		Settings:    settings,
		Log:         log,
		JWTSecret:   jwtSecret,
		validate:    validator.New(),
	}
}

// writeError maps service errors onto HTTP statuses. Specific kinds keep
// their message so the client can render an accurate one; anything
// unexpected collapses to a generic response with the detail logged.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, errs.ErrForbidden):
		http.Error(w, "Forbidden", http.StatusForbidden)
	case errors.Is(err, errs.ErrInsufficientFunds):
		http.Error(w, "Insufficient funds", http.StatusPaymentRequired)
	case errors.Is(err, errs.ErrInvalidAmount):
		http.Error(w, "Invalid amount", http.StatusUnprocessableEntity)
	case errors.Is(err, errs.ErrCapacityExceeded):
		http.Error(w, "Responder limit reached", http.StatusConflict)
	case errors.Is(err, errs.ErrTransientStore):
		http.Error(w, "Temporary storage conflict, retry", http.StatusServiceUnavailable)
	default:
		h.Log.WithError(err).Error("request failed")
		http.Error(w, "Something went wrong", http.StatusInternalServerError)
	}
}

func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// RegisterUser handles user registration
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required,min=8"`
		Name     string `json:"name"`
	}

	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	ctx := r.Context()
	existingUser, err := h.Repo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if existingUser != nil {
		http.Error(w, "Email already taken", http.StatusConflict)
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.writeError(w, err)
		return
	}

	userID, err := h.Repo.CreateUser(ctx, req.Email, string(hashedPassword), req.Name)
	if err != nil {
		h.writeError(w, err)
		return
	}

	token, err := middleware.GenerateToken(userID, h.JWTSecret)
	if err != nil {
		h.writeError(w, err)
		return
	}

	middleware.SetAuthCookie(w, token)
	w.Header().Set("Authorization", "Bearer "+token)
	w.WriteHeader(http.StatusOK)
}

// LoginUser handles user login
func (h *Handler) LoginUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}

	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	ctx := r.Context()
	user, err := h.Repo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if user == nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := middleware.GenerateToken(user.ID, h.JWTSecret)
	if err != nil {
		h.writeError(w, err)
		return
	}

	middleware.SetAuthCookie(w, token)
	w.Header().Set("Authorization", "Bearer "+token)
	w.WriteHeader(http.StatusOK)
}

// GetMe returns the authenticated user's profile. The free-trial flag is
// derived from the account age and subscription on every read; it is not
// stored.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	user, err := h.Repo.GetUserByID(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if user == nil {
		h.writeError(w, errs.ErrNotFound)
		return
	}

	trialDays := models.FreeTrialDays - int(time.Since(user.CreatedAt).Hours()/24)
	if trialDays < 0 {
		trialDays = 0
	}

	writeJSON(w, struct {
		*models.User
		FreeTrialExpired   bool `json:"free_trial_expired"`
		TrialDaysRemaining int  `json:"trial_days_remaining"`
	}{
		User:               user,
		FreeTrialExpired:   trialDays == 0 && !user.IsSubscribed,
		TrialDaysRemaining: trialDays,
	})
}

// UpdateLocation overwrites the user's current location
func (h *Handler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Lat float64 `json:"lat" validate:"latitude"`
		Lng float64 `json:"lng" validate:"longitude"`
	}

	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.Repo.UpdateUserLocation(r.Context(), userID, req.Lat, req.Lng); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// UpdatePush registers or clears the user's push delivery address
func (h *Handler) UpdatePush(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Token   string `json:"token"`
		Enabled bool   `json:"enabled"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if err := h.Repo.UpdateUserPush(r.Context(), userID, req.Token, req.Enabled); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// UpdateProfile updates display fields on the user's profile
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Name         string `json:"name" validate:"required"`
		ProfilePhoto string `json:"profile_photo" validate:"omitempty,url"`
	}

	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.Repo.UpdateUserProfile(r.Context(), userID, req.Name, req.ProfilePhoto); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// ChangePassword re-hashes the user's password after verifying the current
// one, so a stolen session alone cannot rotate the credential.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		CurrentPassword string `json:"current_password" validate:"required"`
		NewPassword     string `json:"new_password" validate:"required,min=8"`
	}

	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	user, err := h.Repo.GetUserByID(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if user == nil {
		h.writeError(w, errs.ErrNotFound)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.Repo.UpdateUserPassword(r.Context(), userID, string(hashedPassword)); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// DeleteAccount permanently deletes the authenticated user after a password
// re-check. Dependent alerts, footage and withdrawals are removed with it.
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Password string `json:"password" validate:"required"`
	}

	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	user, err := h.Repo.GetUserByID(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if user == nil {
		h.writeError(w, errs.ErrNotFound)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	if err := h.Repo.DeleteUser(r.Context(), userID); err != nil {
		h.writeError(w, err)
		return
	}

	h.Log.WithUserID(userID).Info("account deleted")
	middleware.ClearAuthCookie(w)
	w.WriteHeader(http.StatusOK)
}

// GetBalance returns user's balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	balance, err := h.Repo.GetUserBalance(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, balance)
}

// Withdraw handles balance withdrawal
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Amount decimal.Decimal `json:"amount"`
		Method string          `json:"method" validate:"required,oneof=instant standard"`
	}

	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	withdrawal, err := h.Withdrawals.Withdraw(r.Context(), userID, req.Amount, req.Method)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, withdrawal)
}

// GetWithdrawals returns the list of user's withdrawals
func (h *Handler) GetWithdrawals(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	withdrawals, err := h.Repo.GetUserWithdrawals(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if len(withdrawals) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, withdrawals)
}

// CreateAlert broadcasts a new distress alert from the user's location
func (h *Handler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Lat            float64 `json:"lat" validate:"latitude"`
		Lng            float64 `json:"lng" validate:"longitude"`
		LocationString string  `json:"location_string"`
	}

	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	alert, err := h.Alerts.Create(r.Context(), userID, req.Lat, req.Lng, req.LocationString)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(alert)
}

// ListAlerts returns alerts from the last 24 hours. With lat/lng query
// params the list is narrowed to the 10-mile radius around the viewer.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	var viewer *geo.Point

	latStr := r.URL.Query().Get("lat")
	lngStr := r.URL.Query().Get("lng")
	// A viewer position is both coordinates or neither; half a position
	// must not silently widen the result to the whole window.
	if (latStr == "") != (lngStr == "") {
		http.Error(w, "Bad coordinates", http.StatusBadRequest)
		return
	}
	if latStr != "" {
		lat, latErr := strconv.ParseFloat(latStr, 64)
		lng, lngErr := strconv.ParseFloat(lngStr, 64)
		if latErr != nil || lngErr != nil {
			http.Error(w, "Bad coordinates", http.StatusBadRequest)
			return
		}
		viewer = &geo.Point{Lat: lat, Lng: lng}
	}

	alerts, err := h.Alerts.ListRecent(r.Context(), viewer)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if len(alerts) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, alerts)
}

// DeleteAlert removes an alert; only its creator may do so
func (h *Handler) DeleteAlert(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	alertID, err := uuid.Parse(chi.URLParam(r, "alertID"))
	if err != nil {
		http.Error(w, "Bad alert id", http.StatusBadRequest)
		return
	}

	if err := h.Alerts.Delete(r.Context(), alertID, userID); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// SubmitFootage records responder footage for an alert and pays out a slot
// if one is free
func (h *Handler) SubmitFootage(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	alertID, err := uuid.Parse(chi.URLParam(r, "alertID"))
	if err != nil {
		http.Error(w, "Bad alert id", http.StatusBadRequest)
		return
	}

	var req struct {
		VideoURL        string  `json:"video_url" validate:"required,url"`
		DurationSeconds float64 `json:"duration_seconds" validate:"required,gt=0"`
	}

	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	sub, err := h.Ledger.Submit(r.Context(), alertID, userID, req.VideoURL, req.DurationSeconds)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(sub)
}

// GetSettings returns the runtime settings (admin only)
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Settings.Get(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, settings)
}

// UpdateSettings changes the responder cap or the per-upload payment
// (admin only)
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MaxResponders    int             `json:"max_responders" validate:"min=0"`
		PaymentPerUpload decimal.Decimal `json:"payment_per_upload"`
	}

	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	settings := models.Settings{
		MaxResponders:    req.MaxResponders,
		PaymentPerUpload: req.PaymentPerUpload,
	}

	if err := h.Settings.Update(r.Context(), settings); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}
