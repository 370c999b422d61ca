package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jeffrywalsh/webchat/internal/directory"
	"github.com/jeffrywalsh/webchat/internal/middleware"
	"github.com/jeffrywalsh/webchat/internal/repository"
	"go.uber.org/zap"
)

// UserHandler serves profile reads.
//
// GetMe reads the caller's row from the user store. Friendship resolves the
// relation between the caller and another user through the Directory.
type UserHandler struct {
	users  repository.UserRepository
	dir    *directory.Directory
	logger *zap.Logger
}

func NewUserHandler(users repository.UserRepository, dir *directory.Directory, logger *zap.Logger) *UserHandler {
	return &UserHandler{users: users, dir: dir, logger: logger}
}

// GetMe handles GET /v1/users/me
func (h *UserHandler) GetMe(c *gin.Context) {
	userID := middleware.GetUserID(c)

	user, err := h.users.GetByID(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to get user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get user"})
		return
	}
	// A valid token for a deleted account.
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	c.JSON(http.StatusOK, user)
}

// Friendship handles GET /v1/users/:id/friendship
func (h *UserHandler) Friendship(c *gin.Context) {
	otherID, ok := pathID(c, "id")
	if !ok {
		return
	}
	rel, err := h.dir.FriendshipStatus(c.Request.Context(), middleware.GetUserID(c), otherID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": otherID, "status": rel})
}
