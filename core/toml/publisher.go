package toml

import (
	"net/http"

	gotoml "github.com/pelletier/go-toml/v2"
)

type Publisher struct {
	info *AnchorInfo
}

func NewPublisher(info *AnchorInfo) *Publisher {
	return &Publisher{info: info}
}

func (p *Publisher) Render() (string, error) {
	doc := stellarTOML{
		NetworkPassphrase:   p.info.NetworkPassphrase,
		SigningKey:          p.info.SigningKey,
		WebAuthEndpoint:     p.info.WebAuthEndpoint,
		DirectPaymentServer: p.info.DirectPaymentServer,
		AnchorQuoteServer:   p.info.AnchorQuoteServer,
		KYCServer:           p.info.KYCServer,
		Currencies:          p.info.Currencies,
	}
	out, err := gotoml.Marshal(omitEmpty(doc))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (p *Publisher) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := p.Render()
		if err != nil {
			http.Error(w, "failed to render stellar.toml", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	}
}

// omitEmpty drops unset top-level keys so a missing value is absent from the
// document rather than rendered as an empty string.
func omitEmpty(doc stellarTOML) map[string]any {
	out := make(map[string]any)
	set := func(key, value string) {
		if value != "" {
			out[key] = value
		}
	}
	set("NETWORK_PASSPHRASE", doc.NetworkPassphrase)
	set("SIGNING_KEY", doc.SigningKey)
	set("WEB_AUTH_ENDPOINT", doc.WebAuthEndpoint)
	set("DIRECT_PAYMENT_SERVER", doc.DirectPaymentServer)
	set("ANCHOR_QUOTE_SERVER", doc.AnchorQuoteServer)
	set("KYC_SERVER", doc.KYCServer)
	if len(doc.Currencies) > 0 {
		out["CURRENCIES"] = doc.Currencies
	}
	return out
}
