package engine

import "context"

// Retry runs attempt on in and, while the result is not accepted, up to n
// more times on the input transform derives from the previous input and
// result. It returns the last result and the number of attempts made.
//
// An error from attempt or transform ends the loop immediately and is
// returned with the result of that attempt. Cancellation is checked
// before every attempt.
func Retry[In, Out any](
	ctx context.Context,
	n int,
	in In,
	attempt func(ctx context.Context, in In, i int) (Out, bool, error),
	transform func(in In, out Out, i int) (In, error),
) (Out, int, error) {
	var out Out
	if n < 0 {
		n = 0
	}
	for i := 0; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return out, i, err
		}
		var ok bool
		var err error
		out, ok, err = attempt(ctx, in, i)
		if err != nil || ok {
			return out, i + 1, err
		}
		if i == n {
			break
		}
		if in, err = transform(in, out, i); err != nil {
			return out, i + 1, err
		}
	}
	return out, n + 1, nil
}
