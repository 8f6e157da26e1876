// Package gateway constructs exchange clients from configuration.
package gateway

import (
	"fmt"
	"strings"

	"quantdesk/pkg/exchanges/binance"
	"quantdesk/pkg/exchanges/bybit"
	"quantdesk/pkg/exchanges/common"
	"quantdesk/pkg/exchanges/okx"
)

// New creates the client for the named exchange. Names are matched
// case-insensitively against the canonical lowercase identifiers.
func New(name string, creds common.Credentials) (common.Exchange, error) {
	switch common.Name(strings.ToLower(name)) {
	case common.ExchangeBinance:
		return binance.New(creds), nil
	case common.ExchangeBybit:
		return bybit.New(creds), nil
	case common.ExchangeOKX:
		return okx.New(creds), nil
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", name)
	}
}
