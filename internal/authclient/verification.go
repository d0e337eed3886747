package authclient

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

func (c *Client) SendPhoneVerification(ctx context.Context, phone string) error {
	return c.verificationCall(ctx, "/auth/send-phone-verification", map[string]string{
		"phone": strings.TrimSpace(phone),
	})
}

func (c *Client) VerifyPhone(ctx context.Context, phone, code string) error {
	return c.verificationCall(ctx, "/auth/verify-phone", map[string]string{
		"phone": strings.TrimSpace(phone),
		"code":  strings.TrimSpace(code),
	})
}

func (c *Client) SendEmailVerification(ctx context.Context, email string) error {
	return c.verificationCall(ctx, "/auth/send-email-verification", map[string]string{
		"email": strings.TrimSpace(email),
	})
}

func (c *Client) VerifyEmail(ctx context.Context, email, code string) error {
	return c.verificationCall(ctx, "/auth/verify-email", map[string]string{
		"email": strings.TrimSpace(email),
		"code":  strings.TrimSpace(code),
	})
}

func (c *Client) verificationCall(ctx context.Context, path string, body map[string]string) error {
	token := c.resolveToken(ctx, "")
	if err := c.do(ctx, http.MethodPost, path, token, body, nil); err != nil {
		c.log.Error("verification request failed", slog.String("path", path), slog.String("error", err.Error()))
		return err
	}
	return nil
}
