package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/marwen-abid/anchor-remit-go/anchortest"
	"github.com/marwen-abid/anchor-remit-go/errors"
)

// testEnv points the CLI at plain-http test anchors with a fresh account.
func testEnv(t *testing.T) *keypair.Full {
	t.Helper()
	kp := keypair.MustRandom()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("ANCHORCTL_SCHEME", "http")
	t.Setenv("ANCHORCTL_SECRET", kp.Seed())
	t.Setenv("ANCHORCTL_MAX_RETRIES", "0")
	return kp
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func sendArgs(a *anchortest.Anchor, extra ...string) []string {
	args := []string{
		"send", a.Domain(),
		"--amount", "100",
		"--sell", anchortest.FiatAsset,
		"--buy", a.StellarAsset(),
		"--method", "WIRE",
		"--country", "US",
		"--sender-id", "sender-1",
		"--receiver-id", "receiver-1",
		"--field", "routing_number=121000358",
	}
	return append(args, extra...)
}

func TestResolveJSON(t *testing.T) {
	testEnv(t)
	a := anchortest.New(t)

	out, err := run(t, "resolve", a.Domain(), "--json")
	require.NoError(t, err)

	var view anchorView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, a.Domain(), view.Domain)
	assert.Equal(t, a.SigningKey().Address(), view.SigningKey)
	assert.NotEmpty(t, view.DirectPaymentServer)
	assert.NotEmpty(t, view.AnchorQuoteServer)
}

func TestResolveYAML(t *testing.T) {
	testEnv(t)
	a := anchortest.New(t)

	out, err := run(t, "resolve", a.Domain(), "--yaml")
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	assert.Equal(t, a.Domain(), doc["domain"])
	assert.Equal(t, a.SigningKey().Address(), doc["signing_key"])
}

func TestOutputFormatsAreExclusive(t *testing.T) {
	testEnv(t)
	a := anchortest.New(t)

	_, err := run(t, "resolve", a.Domain(), "--json", "--yaml")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CONFIG_INVALID))
	assert.Equal(t, 0, a.Calls(anchortest.EndpointTOML))
}

func TestAuthPrintsToken(t *testing.T) {
	kp := testEnv(t)
	a := anchortest.New(t)

	out, err := run(t, "auth", a.Domain(), "--json", "--show-token")
	require.NoError(t, err)

	var view tokenView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, kp.Address(), view.Account)
	assert.NotEmpty(t, view.JWT)
	assert.Equal(t, 2, a.AuthCalls())
}

func TestAuthRequiresSecret(t *testing.T) {
	testEnv(t)
	t.Setenv("ANCHORCTL_SECRET", "")
	a := anchortest.New(t)

	_, err := run(t, "auth", a.Domain())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CONFIG_INVALID))
	assert.Equal(t, 0, a.AuthCalls())
}

func TestQuoteJSON(t *testing.T) {
	testEnv(t)
	a := anchortest.New(t)

	out, err := run(t, "quote", a.Domain(),
		"--sell", anchortest.FiatAsset,
		"--buy", a.StellarAsset(),
		"--amount", "100",
		"--sell-method", "WIRE",
		"--country", "US",
		"--json",
	)
	require.NoError(t, err)

	var view quoteView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.NotEmpty(t, view.ID)
	assert.Equal(t, "100", view.SellAmount)
	assert.Equal(t, "81.97", view.BuyAmount)
}

func TestSendThenStatus(t *testing.T) {
	kp := testEnv(t)
	a := anchortest.New(t)

	out, err := run(t, sendArgs(a, "--field", "account_number=000123456789", "--json")...)
	require.NoError(t, err)

	var sent paymentView
	require.NoError(t, json.Unmarshal([]byte(out), &sent))
	assert.Equal(t, "pending_sender", sent.Status)
	assert.Equal(t, kp.Address(), sent.Account)
	assert.Equal(t, "81.97", sent.Amount)
	assert.Equal(t, a.ReceivingAccount(), sent.StellarAccountID)
	require.NotEmpty(t, sent.TransactionID)

	out, err = run(t, "status", a.Domain(), sent.TransactionID, "--json")
	require.NoError(t, err)

	var polled paymentView
	require.NoError(t, json.Unmarshal([]byte(out), &polled))
	assert.Equal(t, sent.TransactionID, polled.TransactionID)
	assert.Equal(t, "pending_anchor", polled.Status)
	assert.Equal(t, sent.StellarMemo, polled.StellarMemo)
	assert.Equal(t, 1, a.Calls(anchortest.EndpointGetTransaction))
}

func TestSendReportsMissingFields(t *testing.T) {
	testEnv(t)
	a := anchortest.New(t)

	_, err := run(t, sendArgs(a, "--json")...)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.FIELDS_MISSING))
	assert.Contains(t, errors.MissingFields(err), "account_number")
	assert.Equal(t, 0, a.Calls(anchortest.EndpointCreateTransaction))
}

func TestStatusUnknownTransaction(t *testing.T) {
	testEnv(t)
	a := anchortest.New(t)

	_, err := run(t, "status", a.Domain(), "does-not-exist", "--json")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.NOT_FOUND))
}

func TestPrintErrorShowsStageAndCode(t *testing.T) {
	var buf bytes.Buffer
	printError(&buf, errors.NewFieldsMissing([]string{"routing_number"}))
	assert.Contains(t, buf.String(), "submit/FIELDS_MISSING")
	assert.Contains(t, buf.String(), "routing_number")
}
