package main

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/openloom/llmgate/internal/api"
	"github.com/openloom/llmgate/pkg/types"
)

// Trusted identity headers injected by the authentication proxy in front of
// the gateway.
const (
	headerPrincipalID     = "X-Principal-Id"
	headerPrincipalTier   = "X-Principal-Tier"
	headerTokensRemaining = "X-Tokens-Remaining"
	headerMonthlyLimit    = "X-Monthly-Limit"
)

// newHeaderResolver builds the resolver used in deployments where an auth
// proxy terminates credentials and forwards the principal as headers.
func newHeaderResolver() api.PrincipalResolver {
	return api.PrincipalResolverFunc(func(r *http.Request) (*types.Principal, error) {
		id := r.Header.Get(headerPrincipalID)
		if id == "" {
			return nil, fmt.Errorf("missing %s header", headerPrincipalID)
		}

		tier := types.Tier(r.Header.Get(headerPrincipalTier))
		if !tier.Valid() {
			return nil, fmt.Errorf("invalid tier %q", tier)
		}

		remaining, err := strconv.ParseInt(r.Header.Get(headerTokensRemaining), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s header", headerTokensRemaining)
		}
		limit, _ := strconv.ParseInt(r.Header.Get(headerMonthlyLimit), 10, 64)

		return &types.Principal{
			ID:              id,
			Tier:            tier,
			TokensRemaining: remaining,
			MonthlyLimit:    limit,
		}, nil
	})
}
