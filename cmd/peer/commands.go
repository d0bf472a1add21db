package main

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"time"

	"github.com/dmitrymomot/collidor/core/command"
	"github.com/dmitrymomot/collidor/core/event"
	"github.com/dmitrymomot/collidor/core/logger"
)

// ErrNegativeCount is returned by Countdown for negative starting values.
var ErrNegativeCount = errors.New("countdown must start at zero or above")

type SumArgs struct {
	A int `json:"a" msgpack:"a"`
	B int `json:"b" msgpack:"b"`
}

type SumComputedPayload struct {
	Args   SumArgs `json:"args" msgpack:"args"`
	Result int     `json:"result" msgpack:"result"`
	Peer   string  `json:"peer" msgpack:"peer"`
}

type PeerInfoResult struct {
	Peer     string   `json:"peer" msgpack:"peer"`
	Commands []string `json:"commands" msgpack:"commands"`
}

var (
	Sum       = command.Define[SumArgs, int]("Sum")
	Countdown = command.DefineStream[int, int]("Countdown")
	PeerInfo  = command.Define[struct{}, PeerInfoResult]("PeerInfo")

	SumComputed = event.Define[SumComputedPayload]("SumComputed")
)

// registerHandlers installs the sample commands on d. Every computed sum is
// announced on bus.
func registerHandlers(d *command.AsyncDispatcher, bus *event.Bus, peer string, interval time.Duration, log *slog.Logger) {
	command.Handle(d, Sum, func(ctx context.Context, args SumArgs) (int, error) {
		result := args.A + args.B
		if err := event.Emit(ctx, bus, SumComputed, SumComputedPayload{Args: args, Result: result, Peer: peer}); err != nil {
			log.WarnContext(ctx, "failed to announce sum", logger.Error(err))
		}
		return result, nil
	})

	command.HandleSeq(d, Countdown, func(ctx context.Context, from int) iter.Seq2[int, error] {
		return func(yield func(int, error) bool) {
			if from < 0 {
				yield(0, ErrNegativeCount)
				return
			}
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for n := from; n >= 0; n-- {
				if !yield(n, nil) {
					return
				}
				if n == 0 {
					return
				}
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}
	})

	command.Handle(d, PeerInfo, func(context.Context, struct{}) (PeerInfoResult, error) {
		return PeerInfoResult{
			Peer:     peer,
			Commands: []string{Sum.Name(), Countdown.Name(), PeerInfo.Name()},
		}, nil
	})
}

// logSums logs every SumComputed event seen by bus.
func logSums(ctx context.Context, bus *event.Bus, log *slog.Logger) *event.Subscription {
	return event.Listen(ctx, bus, SumComputed, func(ctx context.Context, p SumComputedPayload) {
		log.InfoContext(ctx, "sum computed",
			slog.Int("a", p.Args.A),
			slog.Int("b", p.Args.B),
			slog.Int("result", p.Result),
			logger.Peer(p.Peer))
	})
}
