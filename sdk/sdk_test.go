package sdk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/require"

	stellarconnect "github.com/marwen-abid/anchor-remit-go"
	"github.com/marwen-abid/anchor-remit-go/anchortest"
	"github.com/marwen-abid/anchor-remit-go/core/net"
	"github.com/marwen-abid/anchor-remit-go/core/toml"
	"github.com/marwen-abid/anchor-remit-go/signers"
)

// resolveAnchor starts a fake anchor and returns its resolved descriptor.
func resolveAnchor(t *testing.T, opts ...anchortest.Option) (*anchortest.Anchor, *toml.AnchorInfo) {
	t.Helper()
	a := anchortest.New(t, opts...)
	info, err := toml.NewResolver(net.NewClient(), toml.WithScheme("http")).Resolve(context.Background(), a.Domain())
	require.NoError(t, err)
	return a, info
}

func newTestClient(a *anchortest.Anchor, opts ...Option) *Client {
	base := []Option{
		WithResolver(toml.NewResolver(net.NewClient(), toml.WithScheme("http"))),
		WithStageRetries(0, 0),
	}
	return NewClient(a.NetworkPassphrase(), append(base, opts...)...)
}

func newSigner() (*keypair.Full, stellarconnect.Signer) {
	kp := keypair.MustRandom()
	return kp, signers.FromKeypair(kp)
}

func login(t *testing.T, a *anchortest.Anchor, info *toml.AnchorInfo) *stellarconnect.AuthToken {
	t.Helper()
	kp, signer := newSigner()
	token, err := NewAuthSession(net.NewClient(), a.NetworkPassphrase()).Authenticate(context.Background(), info, kp.Address(), signer)
	require.NoError(t, err)
	return token
}

func routing() map[string]string {
	return map[string]string{
		"routing_number": "121000358",
		"account_number": "000123456789",
	}
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Now()}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
