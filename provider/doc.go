// Package provider scopes one hub to a context so every consumer below the
// mount point shares the same connection.
//
//	ctx, hub, teardown := provider.Mount(ctx, cfg, log)
//	defer teardown()
//
//	hub, unsubscribe := provider.Use(ctx, func(m message.Message) error {
//		fmt.Println(m)
//		return nil
//	})
//	defer unsubscribe()
//
// Reaching for the hub outside a mounted scope is a programming error and
// panics with ErrNoProvider.
package provider
