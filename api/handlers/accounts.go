package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/syncstack/airsync/interfaces"
	"github.com/syncstack/airsync/internal/enum"
	localerrors "github.com/syncstack/airsync/internal/errors"
	"github.com/syncstack/airsync/internal/models"
	"github.com/syncstack/airsync/internal/tracing"
	"github.com/syncstack/airsync/services"
)

// ListAccounts returns all configured accounts. Secrets never leave the
// model thanks to its json tags.
func ListAccounts(accounts interfaces.AccountRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "ListAccounts", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		all, err := accounts.GetAccounts(ctx)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, all)
	}
}

// GetAccount returns one account by id.
func GetAccount(accounts interfaces.AccountRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "GetAccount", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagAccount(span, c.Param("id"))

		account, err := accounts.GetAccount(ctx, c.Param("id"))
		if err != nil {
			if errors.Is(err, localerrors.ErrAccountNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, account)
	}
}

type addAccountRequest struct {
	ServerURL           string `json:"serverUrl" binding:"required"`
	Username            string `json:"username" binding:"required"`
	Password            string `json:"password" binding:"required"`
	DeviceID            string `json:"deviceId"`
	TrustAllCerts       bool   `json:"trustAllCerts"`
	SyncMode            string `json:"syncMode"`
	SyncIntervalMinutes int    `json:"syncIntervalMinutes"`
	ServerGeneration    string `json:"serverGeneration"`
	// Client certificate material for servers requiring mutual TLS. Stored
	// on the account, never echoed back.
	ClientCertPEM        string `json:"clientCertPem"`
	ClientKeyPEM         string `json:"clientKeyPem"`
	ClientCertPassphrase string `json:"clientCertPassphrase"`
}

// AddAccount registers a new account and, for push mode, starts its loop
// right away.
func AddAccount(accounts interfaces.AccountRepository, s *services.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "AddAccount", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		var req addAccountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		account := &models.Account{
			ServerURL:            req.ServerURL,
			Username:             req.Username,
			Password:             req.Password,
			DeviceID:             req.DeviceID,
			TrustAllCerts:        req.TrustAllCerts,
			SyncMode:             enum.SyncModeScheduled,
			SyncIntervalMinutes:  req.SyncIntervalMinutes,
			ServerGeneration:     enum.GenerationModern,
			SyncStatus:           enum.SyncStatusIdle,
			ClientCertPEM:        req.ClientCertPEM,
			ClientKeyPEM:         req.ClientKeyPEM,
			ClientCertPassphrase: req.ClientCertPassphrase,
		}
		if req.SyncMode == enum.SyncModePush.String() {
			account.SyncMode = enum.SyncModePush
		}
		if req.ServerGeneration == enum.GenerationLegacy.String() {
			account.ServerGeneration = enum.GenerationLegacy
		}

		if err := accounts.SaveAccount(ctx, account); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if account.PushCapable() {
			// The loop outlives the request.
			s.Push.StartAccount(context.Background(), account)
		}
		s.Scheduler.Reschedule()

		c.JSON(http.StatusCreated, gin.H{"status": "account added", "id": account.ID})
	}
}

// RemoveAccount stops the account's push loop, drops its cached transport
// client and cascades the delete to folders and items.
func RemoveAccount(accounts interfaces.AccountRepository, s *services.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "RemoveAccount", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagAccount(span, c.Param("id"))

		id := c.Param("id")
		s.Push.ForgetAccount(id)
		s.ClientCache.Invalidate(id)

		if err := accounts.DeleteAccount(ctx, id); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		s.Scheduler.Reschedule()
		c.JSON(http.StatusOK, gin.H{"status": "account removed", "id": id})
	}
}

type syncModeRequest struct {
	SyncMode string `json:"syncMode" binding:"required"`
}

// SetSyncMode switches an account between push and scheduled sync, starting
// or stopping the push loop to match.
func SetSyncMode(accounts interfaces.AccountRepository, s *services.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "SetSyncMode", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagAccount(span, c.Param("id"))

		var req syncModeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		mode := enum.SyncMode(req.SyncMode)
		if mode != enum.SyncModePush && mode != enum.SyncModeScheduled {
			c.JSON(http.StatusBadRequest, gin.H{"error": "syncMode must be push or scheduled"})
			return
		}

		account, err := accounts.GetAccount(ctx, c.Param("id"))
		if err != nil {
			if errors.Is(err, localerrors.ErrAccountNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		account.SyncMode = mode
		if err := accounts.SaveAccount(ctx, account); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if mode == enum.SyncModePush {
			s.Push.StartAccount(context.Background(), account)
		} else {
			s.Push.StopAccount(account.ID)
		}
		s.Scheduler.Reschedule()

		c.JSON(http.StatusOK, gin.H{"status": "sync mode updated", "id": account.ID, "syncMode": mode})
	}
}

// TriggerSync runs an immediate sync pass for one account.
func TriggerSync(s *services.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "TriggerSync", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagAccount(span, c.Param("id"))

		outcome, err := s.Scheduler.TriggerAccount(ctx, c.Param("id"))
		if err != nil {
			if errors.Is(err, localerrors.ErrAccountNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, outcome)
	}
}

// ListFolders returns the locally known folders of an account.
func ListFolders(folders interfaces.FolderRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "ListFolders", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagAccount(span, c.Param("id"))

		list, err := folders.ListByAccount(ctx, c.Param("id"))
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, list)
	}
}
