package browser

import "context"

// operationContext scopes one CDP operation. Values, and with them the
// chromedp target, come from tab. The context ends with tab or with op, and
// keeps op's cause so a caller deadline reads as such.
func operationContext(tab, op context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(tab)
	stop := context.AfterFunc(op, func() { cancel(context.Cause(op)) })
	return ctx, func() {
		stop()
		cancel(context.Canceled)
	}
}
