package subgraph

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/machinebox/graphql"
	"github.com/vote-relay/internal/domain"
)

const delegateQuery = `
query GetUserData($address: String!) {
  delegate(id: $address) {
    blockTimestamp
    delegatedFromCount
    delegators
    id
    latestBalance
  }
}`

type delegateResponse struct {
	Delegate *struct {
		ID         string   `json:"id"`
		Delegators []string `json:"delegators"`
	} `json:"delegate"`
}

// Client queries one chain's governance subgraph.
type Client struct {
	gql *graphql.Client
}

// NewClient bounds every query by timeout. A non-positive timeout leaves
// queries bounded only by the caller's context.
func NewClient(endpoint string, timeout time.Duration, opts ...graphql.ClientOption) *Client {
	hc := &http.Client{}
	if timeout > 0 {
		hc.Timeout = timeout
	}
	opts = append([]graphql.ClientOption{graphql.WithHTTPClient(hc)}, opts...)
	return &Client{gql: graphql.NewClient(endpoint, opts...)}
}

// Delegators returns the addresses delegating to address, normalized.
// An address the index has never seen yields an empty slice.
func (c *Client) Delegators(ctx context.Context, address string) ([]string, error) {
	req := graphql.NewRequest(delegateQuery)
	req.Var("address", domain.NormalizeAddress(address))

	var resp delegateResponse
	if err := c.gql.Run(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("subgraph delegate query: %w", err)
	}
	if resp.Delegate == nil {
		return []string{}, nil
	}
	out := make([]string, 0, len(resp.Delegate.Delegators))
	for _, d := range resp.Delegate.Delegators {
		if d = domain.NormalizeAddress(d); d != "" {
			out = append(out, d)
		}
	}
	return out, nil
}
