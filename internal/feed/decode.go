package feed

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/solbot/internal/domain"
	"github.com/alanyoungcy/solbot/internal/platform/solrpc"
	"github.com/alanyoungcy/solbot/internal/venue"
)

const programDataPrefix = "Program data: "

type accountRole int

const (
	roleCurve accountRole = iota + 1
	roleSolVault
	roleTokenVault
)

type trackedAccount struct {
	role  accountRole
	token domain.Token
	fee   uint64
}

// poolBook holds the last seen balance of each side of a pool. A price is
// only emitted once both sides have been observed.
type poolBook struct {
	sol, tok         uint64
	haveSol, haveTok bool
}

// Decoder turns raw notifications into domain events. It knows which
// venue account belongs to which token through Track.
type Decoder struct {
	watched solana.PublicKey
	now     func() time.Time

	mu       sync.Mutex
	accounts map[solana.PublicKey]trackedAccount
	pools    map[solana.PublicKey]*poolBook
}

// NewDecoder creates a Decoder for transfers of the watched account.
func NewDecoder(watched solana.PublicKey) *Decoder {
	return &Decoder{
		watched:  watched,
		now:      time.Now,
		accounts: make(map[solana.PublicKey]trackedAccount),
		pools:    make(map[solana.PublicKey]*poolBook),
	}
}

// Track maps tok's venue accounts to tok so that their account
// notifications decode into price updates.
func (d *Decoder) Track(tok domain.Token, feeBps uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch tok.Venue {
	case domain.VenueLaunchCurve:
		d.accounts[tok.Curve.Curve] = trackedAccount{role: roleCurve, token: tok, fee: feeBps}
	case domain.VenuePooled:
		d.accounts[tok.Pool.SolVault()] = trackedAccount{role: roleSolVault, token: tok, fee: feeBps}
		d.accounts[tok.Pool.TokenVault()] = trackedAccount{role: roleTokenVault, token: tok, fee: feeBps}
		if _, ok := d.pools[tok.Pool.Pool]; !ok {
			d.pools[tok.Pool.Pool] = &poolBook{}
		}
	}
}

// Untrack forgets tok's venue accounts.
func (d *Decoder) Untrack(tok domain.Token) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, a := range tok.WatchAccounts() {
		delete(d.accounts, a)
	}
	if tok.Venue == domain.VenuePooled {
		delete(d.pools, tok.Pool.Pool)
	}
}

// Decode decodes one notification. A notification may yield no events.
// Malformed payloads return an error wrapping domain.ErrDecode.
func (d *Decoder) Decode(n solrpc.Notification) ([]domain.Event, error) {
	switch n.Sub.Kind {
	case solrpc.SubLogs:
		return d.decodeLogs(n.Result)
	case solrpc.SubAccount:
		return d.decodeAccount(n.Sub.Target, n.Result)
	case solrpc.SubTransaction:
		return d.decodeTransaction(n.Result)
	}
	return nil, fmt.Errorf("feed: subscription kind %q: %w", n.Sub.Kind, domain.ErrDecode)
}

type logsResult struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value struct {
		Signature string          `json:"signature"`
		Err       json.RawMessage `json:"err"`
		Logs      []string        `json:"logs"`
	} `json:"value"`
}

func (d *Decoder) decodeLogs(raw json.RawMessage) ([]domain.Event, error) {
	var res logsResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("feed: logs notification: %v: %w", err, domain.ErrDecode)
	}
	if isSet(res.Value.Err) {
		return nil, nil
	}

	var events []domain.Event
	for _, line := range res.Value.Logs {
		payload, ok := strings.CutPrefix(line, programDataPrefix)
		if !ok {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil || !venue.IsCreateEvent(data) {
			continue
		}
		ev, err := venue.DecodeCreateEvent(data)
		if err != nil {
			return events, err
		}
		events = append(events, domain.NewPool{
			Signature: res.Value.Signature,
			Slot:      res.Context.Slot,
			Mint:      ev.Mint,
			Curve:     ev.BondingCurve,
			Creator:   ev.User,
			Name:      ev.Name,
			Symbol:    ev.Symbol,
		})
	}
	return events, nil
}

type accountResult struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value *struct {
		Data []string `json:"data"`
	} `json:"value"`
}

func (d *Decoder) decodeAccount(account solana.PublicKey, raw json.RawMessage) ([]domain.Event, error) {
	var res accountResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("feed: account notification: %v: %w", err, domain.ErrDecode)
	}
	if res.Value == nil || len(res.Value.Data) == 0 {
		return nil, fmt.Errorf("feed: account %s: no data: %w", account, domain.ErrDecode)
	}
	data, err := base64.StdEncoding.DecodeString(res.Value.Data[0])
	if err != nil {
		return nil, fmt.Errorf("feed: account %s: %v: %w", account, err, domain.ErrDecode)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	tracked, ok := d.accounts[account]
	if !ok {
		return nil, nil
	}
	tok := tracked.token
	snap := domain.VenueSnapshot{
		Venue:      tok.Venue,
		FeeBps:     tracked.fee,
		Decimals:   tok.Decimals,
		Slot:       res.Context.Slot,
		ObservedAt: d.now(),
	}

	switch tracked.role {
	case roleCurve:
		curve, err := venue.DecodeBondingCurve(data)
		if err != nil {
			return nil, err
		}
		snap.Curve = curve

	case roleSolVault, roleTokenVault:
		_, amount, err := venue.DecodeTokenAccount(data)
		if err != nil {
			return nil, err
		}
		book := d.pools[tok.Pool.Pool]
		if book == nil {
			return nil, nil
		}
		if tracked.role == roleSolVault {
			book.sol, book.haveSol = amount, true
		} else {
			book.tok, book.haveTok = amount, true
		}
		if !book.haveSol || !book.haveTok {
			return nil, nil
		}
		snap.Pool = domain.PoolSnapshot{SolReserve: book.sol, TokenReserve: book.tok}
	}

	return []domain.Event{domain.PriceUpdate{
		Account:  account,
		Mint:     tok.Mint,
		Slot:     res.Context.Slot,
		Snapshot: snap,
	}}, nil
}

type tokenBalance struct {
	Mint          string `json:"mint"`
	Owner         string `json:"owner"`
	UITokenAmount struct {
		Amount   string `json:"amount"`
		Decimals uint8  `json:"decimals"`
	} `json:"uiTokenAmount"`
}

type transactionResult struct {
	Signature   string `json:"signature"`
	Slot        uint64 `json:"slot"`
	Transaction struct {
		Meta *struct {
			Err               json.RawMessage `json:"err"`
			PreTokenBalances  []tokenBalance  `json:"preTokenBalances"`
			PostTokenBalances []tokenBalance  `json:"postTokenBalances"`
		} `json:"meta"`
	} `json:"transaction"`
}

func (d *Decoder) decodeTransaction(raw json.RawMessage) ([]domain.Event, error) {
	var res transactionResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("feed: transaction notification: %v: %w", err, domain.ErrDecode)
	}
	meta := res.Transaction.Meta
	if res.Signature == "" || meta == nil {
		return nil, fmt.Errorf("feed: transaction notification without signature or meta: %w", domain.ErrDecode)
	}

	type side struct {
		pre, post uint64
		decimals  uint8
	}
	byMint := make(map[solana.PublicKey]*side)
	var order []solana.PublicKey
	add := func(balances []tokenBalance, post bool) error {
		for _, b := range balances {
			if b.Owner != d.watched.String() {
				continue
			}
			mint, err := solana.PublicKeyFromBase58(b.Mint)
			if err != nil {
				return fmt.Errorf("feed: mint %q: %v: %w", b.Mint, err, domain.ErrDecode)
			}
			amount, err := strconv.ParseUint(b.UITokenAmount.Amount, 10, 64)
			if err != nil {
				return fmt.Errorf("feed: amount %q: %v: %w", b.UITokenAmount.Amount, err, domain.ErrDecode)
			}
			s, ok := byMint[mint]
			if !ok {
				s = &side{decimals: b.UITokenAmount.Decimals}
				byMint[mint] = s
				order = append(order, mint)
			}
			if post {
				s.post += amount
			} else {
				s.pre += amount
			}
		}
		return nil
	}
	if err := add(meta.PreTokenBalances, false); err != nil {
		return nil, err
	}
	if err := add(meta.PostTokenBalances, true); err != nil {
		return nil, err
	}

	ev := domain.WatchedTransfer{
		Signature: res.Signature,
		Slot:      res.Slot,
		Account:   d.watched,
		Failed:    isSet(meta.Err),
	}
	for _, mint := range order {
		s := byMint[mint]
		if s.pre == s.post {
			continue
		}
		ev.Changes = append(ev.Changes, domain.BalanceChange{Mint: mint, Decimals: s.decimals, Pre: s.pre, Post: s.post})
	}
	if len(ev.Changes) == 0 {
		return nil, nil
	}
	return []domain.Event{ev}, nil
}

func isSet(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null"
}
