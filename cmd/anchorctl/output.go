package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	stellarconnect "github.com/marwen-abid/anchor-remit-go"
	"github.com/marwen-abid/anchor-remit-go/core/toml"
	"github.com/marwen-abid/anchor-remit-go/observer"
	"github.com/marwen-abid/anchor-remit-go/sdk"
)

const rule = "======================================================================"

// render writes v as JSON or YAML when asked to, otherwise calls human.
func (a *app) render(v any, human func(w io.Writer)) error {
	switch {
	case a.jsonOut:
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case a.yamlOut:
		enc := yaml.NewEncoder(a.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		human(a.out)
		return nil
	}
}

// spin starts a spinner on stderr and returns the function that stops it.
func (a *app) spin(suffix string) func() {
	if a.machineOutput() {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(a.errOut))
	s.Suffix = " " + suffix
	s.Start()
	return s.Stop
}

func header(w io.Writer, title string) {
	fmt.Fprintln(w, "\n"+rule)
	fmt.Fprintln(w, color.GreenString("  %s", title))
	fmt.Fprintln(w, rule)
}

func field(w io.Writer, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(w, "  %-22s %s\n", label+":", value)
}

type currencyView struct {
	Code   string `json:"code" yaml:"code"`
	Issuer string `json:"issuer,omitempty" yaml:"issuer,omitempty"`
	Status string `json:"status,omitempty" yaml:"status,omitempty"`
}

type anchorView struct {
	Domain              string         `json:"domain" yaml:"domain"`
	NetworkPassphrase   string         `json:"network_passphrase,omitempty" yaml:"network_passphrase,omitempty"`
	SigningKey          string         `json:"signing_key" yaml:"signing_key"`
	WebAuthEndpoint     string         `json:"web_auth_endpoint" yaml:"web_auth_endpoint"`
	DirectPaymentServer string         `json:"direct_payment_server,omitempty" yaml:"direct_payment_server,omitempty"`
	AnchorQuoteServer   string         `json:"anchor_quote_server,omitempty" yaml:"anchor_quote_server,omitempty"`
	KYCServer           string         `json:"kyc_server,omitempty" yaml:"kyc_server,omitempty"`
	Currencies          []currencyView `json:"currencies,omitempty" yaml:"currencies,omitempty"`
}

func newAnchorView(info *toml.AnchorInfo) anchorView {
	v := anchorView{
		Domain:              info.Domain,
		NetworkPassphrase:   info.NetworkPassphrase,
		SigningKey:          info.SigningKey,
		WebAuthEndpoint:     info.WebAuthEndpoint,
		DirectPaymentServer: info.DirectPaymentServer,
		AnchorQuoteServer:   info.AnchorQuoteServer,
		KYCServer:           info.KYCServer,
	}
	for _, c := range info.Currencies {
		v.Currencies = append(v.Currencies, currencyView{Code: c.Code, Issuer: c.Issuer, Status: c.Status})
	}
	return v
}

func (v anchorView) print(w io.Writer) {
	header(w, "ANCHOR "+strings.ToUpper(v.Domain))
	field(w, "Network", v.NetworkPassphrase)
	field(w, "Signing key", color.CyanString(v.SigningKey))
	field(w, "Web auth", v.WebAuthEndpoint)
	field(w, "Direct payments", v.DirectPaymentServer)
	field(w, "Quotes", v.AnchorQuoteServer)
	field(w, "KYC", v.KYCServer)
	for _, c := range v.Currencies {
		field(w, "Currency", strings.TrimSpace(c.Code+" "+color.HiBlackString(c.Issuer)+" "+c.Status))
	}
	fmt.Fprintln(w, rule)
}

type tokenView struct {
	Domain    string    `json:"domain" yaml:"domain"`
	Account   string    `json:"account" yaml:"account"`
	ExpiresAt time.Time `json:"expires_at" yaml:"expires_at"`
	JWT       string    `json:"jwt,omitempty" yaml:"jwt,omitempty"`
}

func (v tokenView) print(w io.Writer) {
	header(w, "AUTHENTICATED")
	field(w, "Domain", v.Domain)
	field(w, "Account", color.CyanString(v.Account))
	field(w, "Expires", v.ExpiresAt.Local().Format(time.DateTime))
	field(w, "Token", v.JWT)
	fmt.Fprintln(w, rule)
}

type quoteView struct {
	ID         string    `json:"id" yaml:"id"`
	SellAsset  string    `json:"sell_asset" yaml:"sell_asset"`
	SellAmount string    `json:"sell_amount" yaml:"sell_amount"`
	BuyAsset   string    `json:"buy_asset" yaml:"buy_asset"`
	BuyAmount  string    `json:"buy_amount" yaml:"buy_amount"`
	Price      string    `json:"price" yaml:"price"`
	TotalPrice string    `json:"total_price,omitempty" yaml:"total_price,omitempty"`
	Fee        string    `json:"fee,omitempty" yaml:"fee,omitempty"`
	ExpiresAt  time.Time `json:"expires_at" yaml:"expires_at"`
}

func newQuoteView(q *stellarconnect.Quote) quoteView {
	v := quoteView{
		ID:         q.ID,
		SellAsset:  q.SellAsset,
		SellAmount: q.SellAmount,
		BuyAsset:   q.BuyAsset,
		BuyAmount:  q.BuyAmount,
		Price:      q.Price,
		TotalPrice: q.TotalPrice,
		ExpiresAt:  q.ExpiresAt,
	}
	if q.Fee != nil {
		v.Fee = q.Fee.Total + " " + q.Fee.Asset
	}
	return v
}

func (v quoteView) print(w io.Writer) {
	header(w, "FIRM QUOTE")
	field(w, "Quote ID", color.CyanString(v.ID))
	field(w, "You sell", v.SellAmount+" "+v.SellAsset)
	field(w, "Anchor buys", v.BuyAmount+" "+v.BuyAsset)
	field(w, "Price", v.Price)
	field(w, "Total price", v.TotalPrice)
	field(w, "Fee", v.Fee)
	field(w, "Expires", v.ExpiresAt.Local().Format(time.DateTime))
	fmt.Fprintln(w, rule)
}

type priceView struct {
	Asset    string `json:"asset" yaml:"asset"`
	Price    string `json:"price" yaml:"price"`
	Decimals int    `json:"decimals" yaml:"decimals"`
}

func newPriceViews(prices []sdk.IndicativePrice) []priceView {
	views := make([]priceView, 0, len(prices))
	for _, p := range prices {
		views = append(views, priceView{Asset: p.Asset, Price: p.Price, Decimals: p.Decimals})
	}
	return views
}

func printPrices(w io.Writer, prices []priceView) {
	header(w, "INDICATIVE PRICES")
	for _, p := range prices {
		field(w, p.Asset, p.Price)
	}
	fmt.Fprintln(w, rule)
}

type statusChangeView struct {
	Status     string    `json:"status" yaml:"status"`
	ObservedAt time.Time `json:"observed_at" yaml:"observed_at"`
}

type paymentView struct {
	TransactionID        string             `json:"transaction_id" yaml:"transaction_id"`
	Domain               string             `json:"domain" yaml:"domain"`
	Account              string             `json:"account,omitempty" yaml:"account,omitempty"`
	Status               string             `json:"status" yaml:"status"`
	QuoteID              string             `json:"quote_id,omitempty" yaml:"quote_id,omitempty"`
	Amount               string             `json:"amount,omitempty" yaml:"amount,omitempty"`
	AssetCode            string             `json:"asset_code,omitempty" yaml:"asset_code,omitempty"`
	StellarAccountID     string             `json:"stellar_account_id,omitempty" yaml:"stellar_account_id,omitempty"`
	StellarMemo          string             `json:"stellar_memo,omitempty" yaml:"stellar_memo,omitempty"`
	StellarMemoType      string             `json:"stellar_memo_type,omitempty" yaml:"stellar_memo_type,omitempty"`
	AmountIn             string             `json:"amount_in,omitempty" yaml:"amount_in,omitempty"`
	AmountOut            string             `json:"amount_out,omitempty" yaml:"amount_out,omitempty"`
	AmountFee            string             `json:"amount_fee,omitempty" yaml:"amount_fee,omitempty"`
	StellarTransactionID string             `json:"stellar_transaction_id,omitempty" yaml:"stellar_transaction_id,omitempty"`
	Message              string             `json:"message,omitempty" yaml:"message,omitempty"`
	History              []statusChangeView `json:"history,omitempty" yaml:"history,omitempty"`
	Settlement           *settlementView    `json:"settlement,omitempty" yaml:"settlement,omitempty"`
}

func newPaymentView(r *stellarconnect.PaymentRecord) paymentView {
	v := paymentView{
		TransactionID:        r.TransactionID,
		Domain:               r.Domain,
		Account:              r.Account,
		Status:               string(r.Status),
		QuoteID:              r.QuoteID,
		Amount:               r.Amount,
		AssetCode:            r.AssetCode,
		StellarAccountID:     r.StellarAccountID,
		StellarMemo:          r.StellarMemo,
		StellarMemoType:      r.StellarMemoType,
		AmountIn:             r.AmountIn,
		AmountOut:            r.AmountOut,
		AmountFee:            r.AmountFee,
		StellarTransactionID: r.StellarTransactionID,
		Message:              r.Message,
	}
	for _, c := range r.StatusHistory {
		v.History = append(v.History, statusChangeView{Status: string(c.Status), ObservedAt: c.ObservedAt})
	}
	return v
}

func (v paymentView) print(w io.Writer) {
	header(w, "PAYMENT")
	field(w, "Transaction", color.CyanString(v.TransactionID))
	field(w, "Anchor", v.Domain)
	field(w, "Status", coloredStatus(stellarconnect.PaymentStatus(v.Status)))
	field(w, "Quote", v.QuoteID)
	if v.Amount != "" {
		field(w, "Amount", v.Amount+" "+v.AssetCode)
	}
	field(w, "Pay to", v.StellarAccountID)
	if v.StellarMemo != "" {
		field(w, "Memo", v.StellarMemo+" ("+v.StellarMemoType+")")
	}
	field(w, "Amount in", v.AmountIn)
	field(w, "Amount out", v.AmountOut)
	field(w, "Fee", v.AmountFee)
	field(w, "Stellar tx", color.HiBlackString(v.StellarTransactionID))
	field(w, "Message", v.Message)
	if s := v.Settlement; s != nil {
		field(w, "Settled by", color.HiBlackString(s.TransactionHash))
		field(w, "Settled at", s.LedgerCloseTime.Local().Format(time.DateTime))
	}
	fmt.Fprintln(w, rule)
}

type settlementView struct {
	OperationID     string    `json:"operation_id" yaml:"operation_id"`
	From            string    `json:"from" yaml:"from"`
	Asset           string    `json:"asset" yaml:"asset"`
	Amount          string    `json:"amount" yaml:"amount"`
	TransactionHash string    `json:"transaction_hash" yaml:"transaction_hash"`
	LedgerCloseTime time.Time `json:"ledger_close_time" yaml:"ledger_close_time"`
}

func newSettlementView(s *observer.Settlement) *settlementView {
	return &settlementView{
		OperationID:     s.OperationID,
		From:            s.From,
		Asset:           s.Asset,
		Amount:          s.Amount,
		TransactionHash: s.TransactionHash,
		LedgerCloseTime: s.LedgerCloseTime,
	}
}

func coloredStatus(status stellarconnect.PaymentStatus) string {
	label := strings.ToUpper(string(status))
	switch status {
	case stellarconnect.StatusCompleted:
		return color.GreenString(label)
	case stellarconnect.StatusError, stellarconnect.StatusRefunded, stellarconnect.StatusExpired:
		return color.RedString(label)
	case stellarconnect.StatusPendingCustomerInfoUpdate, stellarconnect.StatusPendingTransactionInfoUpdate:
		return color.MagentaString(label)
	case "":
		return "UNKNOWN"
	default:
		return color.YellowString(label)
	}
}
