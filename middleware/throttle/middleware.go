package throttle

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"throttle-gateway/middleware/throttle/application"
	"throttle-gateway/middleware/throttle/domain"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type KeyFunc func(r *http.Request) string

type Options struct {
	Manager domain.Manager
	Policy  domain.Policy
	// NamePrefix é concatenado à chave do cliente para formar o nome do throttle.
	NamePrefix string

	Stats              domain.StatsStore
	KeyFn              KeyFunc
	KeyHeader          string
	TrustXForwardedFor bool

	RejectStatus      int
	UnavailableStatus int
	RetryAfter        time.Duration
	// FailOpen deixa a requisição passar quando o store do throttle não responde.
	FailOpen bool

	AddThrottleHeaders bool

	Logger *zap.Logger
	// ErrorLogInterval limita logs de falha do store (padrão 1 por segundo).
	ErrorLogInterval time.Duration
}

func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			// pega o primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				parts := strings.Split(xff, ",")
				if len(parts) > 0 {
					ip := strings.TrimSpace(parts[0])
					if ip != "" {
						return ip
					}
				}
			}
		}

		// fallback: RemoteAddr
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// Middleware monta o middleware. Erros de configuração (manager ausente,
// política inválida) aparecem aqui, não no meio de uma requisição.
func Middleware(opts Options) (func(next http.Handler) http.Handler, error) {
	if opts.Manager == nil {
		return nil, fmt.Errorf("%w: nil throttle manager", domain.ErrInvalidConfiguration)
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.UnavailableStatus == 0 {
		opts.UnavailableStatus = http.StatusServiceUnavailable
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ErrorLogInterval <= 0 {
		opts.ErrorLogInterval = time.Second
	}

	svc := application.Service{
		Stats:      opts.Stats,
		RetryAfter: opts.RetryAfter,
		FailOpen:   opts.FailOpen,
	}
	errLog := &rate.Sometimes{Interval: opts.ErrorLogInterval}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name := domain.Name(opts.NamePrefix + opts.KeyFn(r))

			th, err := domain.Create(opts.Manager, name, opts.Policy)
			if err != nil {
				opts.Logger.Error("throttle creation failed", zap.String("throttle", string(name)), zap.Error(err))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}

			if opts.AddThrottleHeaders {
				w.Header().Set("X-Throttle-Name", string(name))
				w.Header().Set("X-Throttle-Policy", string(opts.Policy.Kind))
				w.Header().Set("X-Throttle-Threshold", formatInt64(opts.Policy.Threshold))
			}

			dec, err := svc.Decide(r.Context(), th, domain.StatsEvent{
				Method: r.Method,
				Path:   r.URL.Path,
				At:     time.Now(),
			})
			if err != nil {
				errLog.Do(func() {
					opts.Logger.Warn("throttle decision unresolved",
						zap.String("throttle", string(name)),
						zap.Bool("fail_open", opts.FailOpen),
						zap.Error(err),
					)
				})
				if !dec.Allowed {
					http.Error(w, http.StatusText(opts.UnavailableStatus), opts.UnavailableStatus)
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			if !dec.Allowed {
				w.Header().Set("Retry-After", formatInt(retryAfterSeconds(dec.RetryAfter)))
				http.Error(w, http.StatusText(opts.RejectStatus), opts.RejectStatus)
				return
			}

			next.ServeHTTP(w, r)
		})
	}, nil
}

// retryAfterSeconds arredonda para baixo, mas nunca abaixo de 1s.
func retryAfterSeconds(d time.Duration) int {
	s := int(d.Seconds())
	if s < 1 {
		return 1
	}
	return s
}
