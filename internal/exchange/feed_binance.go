package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"swarmbot-go/internal/signal"
)

const binanceStreamURL = "wss://stream.binance.com:9443/stream?streams="

var errResubscribe = errors.New("symbol set changed")

type binanceEnvelope struct {
	Stream string `json:"stream"`
	Data   struct {
		Price        string `json:"p"`
		Quantity     string `json:"q"`
		TradeTime    int64  `json:"T"`
		IsBuyerMaker bool   `json:"m"`
	} `json:"data"`
}

// runBinance keeps one combined trade stream open, reconnecting with backoff on failure and
// immediately when the symbol set changes.
func (f *Feed) runBinance(ctx context.Context, out chan<- signal.Tick) error {
	b := &backoff.Backoff{Min: time.Second, Max: 30 * time.Second, Factor: 1.8, Jitter: true}
	for {
		symbols, changed := f.watch()
		if len(symbols) == 0 {
			select {
			case <-changed:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err := f.streamBinance(ctx, symbols, changed, out)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, errResubscribe):
			b.Reset()
			f.log.Info().Msg("resubscribing binance streams")
			continue
		}
		wait := b.Duration()
		f.log.Warn().Err(err).Dur("backoff", wait).Msg("binance feed disconnected")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (f *Feed) streamBinance(ctx context.Context, symbols []string, changed <-chan struct{}, out chan<- signal.Tick) error {
	streams := make([]string, len(symbols))
	for i, sym := range symbols {
		streams[i] = strings.ToLower(sym) + "@trade"
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, binanceStreamURL+strings.Join(streams, "/"), nil)
	if err != nil {
		return err
	}
	f.log.Info().Strs("symbols", symbols).Msg("binance stream connected")

	// Closing the connection unblocks ReadMessage when ctx ends or symbols change.
	stop := make(chan struct{})
	var resubscribe atomic.Bool
	go func() {
		ping := time.NewTicker(15 * time.Second)
		defer ping.Stop()
		for {
			select {
			case <-ping.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			case <-changed:
				resubscribe.Store(true)
				conn.Close()
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-stop:
				return
			}
		}
	}()
	defer func() {
		close(stop)
		conn.Close()
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if resubscribe.Load() {
				return errResubscribe
			}
			return err
		}
		tk, err := decodeBinanceTrade(msg)
		if err != nil {
			f.log.Warn().Err(err).Msg("bad binance message")
			continue
		}
		if err := f.emit(ctx, out, tk); err != nil {
			return err
		}
	}
}

func decodeBinanceTrade(msg []byte) (signal.Tick, error) {
	var env binanceEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return signal.Tick{}, fmt.Errorf("decode: %w", err)
	}
	px, err := strconv.ParseFloat(env.Data.Price, 64)
	if err != nil {
		return signal.Tick{}, fmt.Errorf("price %q: %w", env.Data.Price, err)
	}
	qty, err := strconv.ParseFloat(env.Data.Quantity, 64)
	if err != nil {
		return signal.Tick{}, fmt.Errorf("quantity %q: %w", env.Data.Quantity, err)
	}
	side := 1
	if env.Data.IsBuyerMaker {
		side = -1
	}
	return signal.Tick{
		Symbol: binanceSymbol(env.Stream),
		Price:  px,
		Size:   qty,
		Side:   side,
		Ts:     time.UnixMilli(env.Data.TradeTime),
	}, nil
}

// binanceSymbol upper-cases the symbol part of a stream name such as btcusdt@trade.
func binanceSymbol(stream string) string {
	sym, _, _ := strings.Cut(stream, "@")
	return strings.ToUpper(sym)
}
