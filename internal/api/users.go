package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"schoolattendance/internal/auth"
	"schoolattendance/internal/model"
	"schoolattendance/internal/store"
)

type loginRequest struct {
	NIP      string `json:"nip" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	model.User
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badJSON(c, err)
		return
	}
	u, err := s.store.GetUserByNIP(c.Request.Context(), strings.TrimSpace(req.NIP))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": auth.ErrInvalidCredentials.Error()})
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := auth.CheckPassword(u.PasswordHash, req.Password); err != nil {
		s.logger.WithField("user_id", u.ID).Info("login rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"error": auth.ErrInvalidCredentials.Error()})
		return
	}
	tok, err := auth.Issue(u, s.cfg.JWTIssuer, s.cfg.JWTSigningKey, s.cfg.AccessTTL)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, loginResponse{User: u, Token: tok.AccessToken, ExpiresAt: tok.ExpiresAt})
}

func (s *Server) listUsers(c *gin.Context) {
	users, err := s.store.ListUsers(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

type createUserRequest struct {
	Name     string     `json:"name" binding:"required"`
	Role     model.Role `json:"role" binding:"required"`
	NIP      string     `json:"nip" binding:"required"`
	Password string     `json:"password" binding:"required"`
	Avatar   string     `json:"avatar"`
}

func (s *Server) createUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badJSON(c, err)
		return
	}
	if !req.Role.Valid() {
		s.fail(c, invalid("role must be admin, teacher or staff"))
		return
	}
	if len(req.Password) < 6 {
		s.fail(c, invalid("password must be at least 6 characters"))
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	u, err := s.store.CreateUser(c.Request.Context(), model.User{
		Name:         strings.TrimSpace(req.Name),
		Role:         req.Role,
		NIP:          strings.TrimSpace(req.NIP),
		PasswordHash: hash,
		Avatar:       req.Avatar,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	s.logger.WithFields(logrus.Fields{"user_id": u.ID, "role": u.Role}).Info("user created")
	c.JSON(http.StatusCreated, u)
}

func (s *Server) deleteUser(c *gin.Context) {
	me, ok := s.caller(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if id == me.ID {
		s.fail(c, invalid("cannot delete your own account"))
		return
	}
	if err := s.store.DeleteUser(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	s.logger.WithField("user_id", id).Info("user deleted")
	c.JSON(http.StatusOK, gin.H{"success": true})
}
