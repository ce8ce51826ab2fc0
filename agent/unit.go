package agent

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/gaborage/querytap/logger"
	"github.com/gaborage/querytap/scope"
)

// Unit of work name prefixes.
const (
	WebTransactionPrefix   = "WebTransaction/"
	OtherTransactionPrefix = "OtherTransaction/"
)

// Begin starts a unit of work named name. Queries published with the
// returned context are recorded under it until End.
func (a *Agent) Begin(ctx context.Context, name string) (context.Context, *scope.Stack) {
	ctx = logger.WithQueryCounter(ctx)
	return scope.Begin(ctx, name, scope.WithTracer(a.tracer))
}

// End finishes the unit of work and offers its trace to the transaction
// sampler. It returns nil if the stack was already finished.
func (a *Agent) End(ctx context.Context, stack *scope.Stack) *scope.Trace {
	if stack == nil {
		return nil
	}
	tr := stack.Finish(time.Now())
	if tr == nil {
		return nil
	}
	a.transactions.NoticeFinished(tr)

	a.log.WithContext(ctx).Debug().
		Str("transaction", tr.Name).
		Str("guid", tr.GUID).
		Int64("queries", logger.GetQueryCounter(ctx)).
		Dur("db_elapsed", time.Duration(logger.GetQueryElapsed(ctx))).
		Dur("duration", tr.Duration).
		Msg("Unit of work finished")
	return tr
}

// RunInTransaction runs fn inside a background unit of work named
// OtherTransaction/<name>. The unit of work ends even if fn panics.
func (a *Agent) RunInTransaction(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, stack := a.Begin(ctx, OtherTransactionPrefix+name)
	defer a.End(ctx, stack)

	err := fn(ctx)
	if err != nil {
		stack.Annotate("error", err.Error())
	}
	return err
}

// Middleware wraps every request in a unit of work named
// WebTransaction/<method> <route>. An inbound X-Request-ID becomes its GUID.
func (a *Agent) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := req.Context()
			if id := requestID(c); id != "" {
				ctx = scope.WithRequestID(ctx, id)
			}

			ctx, stack := a.Begin(ctx, webTransactionName(c))
			c.SetRequest(req.WithContext(ctx))
			defer a.End(ctx, stack)

			err := next(c)
			status := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}
			stack.Annotate("http.status_code", status)
			return err
		}
	}
}

// Use installs the otelecho server span middleware followed by Middleware,
// so unit of work spans nest under the request span.
func (a *Agent) Use(e *echo.Echo) {
	e.Use(
		otelecho.Middleware(a.cfg.App.Name,
			otelecho.WithTracerProvider(a.provider.TracerProvider()),
			otelecho.WithMeterProvider(a.provider.MeterProvider()),
		),
		a.Middleware(),
	)
}

// MountMetrics serves MetricsHandler on path.
func (a *Agent) MountMetrics(e *echo.Echo, path string) {
	e.GET(path, echo.WrapHandler(a.MetricsHandler()))
}

func requestID(c echo.Context) string {
	if id := c.Request().Header.Get(echo.HeaderXRequestID); id != "" {
		return id
	}
	return c.Response().Header().Get(echo.HeaderXRequestID)
}

func webTransactionName(c echo.Context) string {
	path := c.Path()
	if path == "" {
		path = c.Request().URL.Path
	}
	return WebTransactionPrefix + c.Request().Method + " " + path
}
