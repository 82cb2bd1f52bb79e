package handlers

import (
	apierrors "github.com/reviewinsight/backend/internal/errors"
)

// oauthUnavailable is the error for OAuth endpoints when the provider's
// credentials are not configured
func oauthUnavailable(provider string) *apierrors.APIError {
	return apierrors.ServiceUnavailable(provider + " login")
}
