package recovery_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/shieldops/shield/classify"
	"github.com/shieldops/shield/recovery"
)

func Example() {
	o := recovery.New(recovery.Config{})

	res := o.Execute(context.Background(), func(ctx context.Context) (any, error) {
		return "fresh rates", nil
	}, recovery.Options{
		Operation: "fetch-rates",
		Category:  classify.CategoryExternalAPI,
		Fallback:  "stale rates",
	})

	fmt.Println(res.Success, res.Value)
	// Output: true fresh rates
}

func Example_fallback() {
	o := recovery.New(recovery.Config{
		Strategies: map[classify.Category]recovery.Strategy{
			classify.CategoryExternalAPI: {
				Name:          "external-api-recovery",
				AllowFallback: true,
			},
		},
	})

	res := o.Execute(context.Background(), func(ctx context.Context) (any, error) {
		return nil, errors.New("upstream returned 503")
	}, recovery.Options{
		Operation: "fetch-rates",
		Category:  classify.CategoryExternalAPI,
		Fallback:  "stale rates",
	})

	fmt.Println(res.Degraded, res.Value)
	// Output: true stale rates
}
