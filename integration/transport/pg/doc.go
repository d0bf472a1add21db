// Package pg carries peer traffic over PostgreSQL LISTEN/NOTIFY.
//
// Connect creates a pgx connection pool with exponential retry and verifies
// it with a ping; Healthcheck returns a probe for readiness endpoints. New
// turns the pool into a channel.Channel suitable for the command bridge and
// the event bus.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	ch := pg.New(pool, pg.WithChannelPrefix(cfg.ChannelPrefix))
//	defer ch.Close()
//
//	bus := event.New(event.WithChannel(ch))
//
// # Transactional publishing
//
// A context prepared with WithTx makes Publish send its notification inside
// that transaction. PostgreSQL delivers it only after commit and drops it on
// rollback, which lets events follow the data they describe:
//
//	tx, _ := pool.Begin(ctx)
//	defer tx.Rollback(ctx)
//	// ... write rows ...
//	_ = event.Emit(pg.WithTx(ctx, tx), bus, UserCreated, user)
//	_ = tx.Commit(ctx)
//
// # Delivery
//
// Payloads travel as a JSON envelope {source, target, payload} and must stay
// under the 8000 byte notification limit (ErrPayloadTooLarge). Topic names
// longer than a PostgreSQL identifier are replaced by a stable digest.
// Notifications are fanned out to every listener, so single-consumer
// delivery is not enforced by this transport.
//
// # Errors
//
//   - ErrEmptyConnectionString: no DATABASE_URL configured
//   - ErrFailedToParseDBConfig: the connection string is malformed
//   - ErrFailedToOpenDBConnection: no successful ping within the retry budget
//   - ErrHealthcheckFailed: the probe ping failed
//   - ErrListen, ErrListenTimeout: Subscribe could not LISTEN in time
//   - ErrPayloadTooLarge: the encoded envelope exceeds the notification limit
package pg
