package gateway

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/clinicaec/hospital-backend/pkg/config"
	"github.com/clinicaec/hospital-backend/pkg/errors"
	pkghttp "github.com/clinicaec/hospital-backend/pkg/httputil"
	"github.com/clinicaec/hospital-backend/pkg/logger"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carried by bearer tokens. Issuance happens outside this repository;
// the gateway only verifies them.
type Claims struct {
	Name string `json:"name"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Proxy handles reverse proxying to backend services
type Proxy struct {
	cfg             *config.Config
	log             *logger.Logger
	pharmacyProxy   *httputil.ReverseProxy
	schedulingProxy *httputil.ReverseProxy
}

// NewProxy creates a new proxy instance
func NewProxy(cfg *config.Config, log *logger.Logger) (*Proxy, error) {
	p := &Proxy{
		cfg: cfg,
		log: log,
	}

	var err error
	if p.pharmacyProxy, err = p.createProxy(cfg.Services.PharmacyServiceURL); err != nil {
		return nil, err
	}
	if p.schedulingProxy, err = p.createProxy(cfg.Services.SchedulingServiceURL); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Proxy) createProxy(targetURL string) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(targetURL)
	if err != nil || target.Host == "" {
		return nil, errors.Internal("invalid upstream URL: " + targetURL)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)

	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		req.Host = target.Host
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		p.log.Error().Err(err).Str("path", r.URL.Path).Msg("proxy error")
		pkghttp.Error(w, errors.New("SERVICE_UNAVAILABLE", "service unavailable", http.StatusBadGateway))
	}

	return proxy, nil
}

// ForwardToPharmacy forwards requests to the pharmacy service
func (p *Proxy) ForwardToPharmacy(w http.ResponseWriter, r *http.Request) {
	p.pharmacyProxy.ServeHTTP(w, r)
}

// ForwardToScheduling forwards requests to the scheduling service
func (p *Proxy) ForwardToScheduling(w http.ResponseWriter, r *http.Request) {
	p.schedulingProxy.ServeHTTP(w, r)
}

// AuthMiddleware validates the bearer token and forwards the caller identity
// headers. Identity headers sent by the client are always overwritten.
func (p *Proxy) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Header.Del(pkghttp.HeaderUserID)
		r.Header.Del(pkghttp.HeaderUserName)
		r.Header.Del(pkghttp.HeaderUserRole)

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			pkghttp.Error(w, errors.Unauthorized("missing authorization header"))
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			pkghttp.Error(w, errors.Unauthorized("invalid authorization header format"))
			return
		}

		claims := &Claims{}
		opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
		if p.cfg.JWT.Issuer != "" {
			opts = append(opts, jwt.WithIssuer(p.cfg.JWT.Issuer))
		}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
			return []byte(p.cfg.JWT.Secret), nil
		}, opts...)

		if err != nil {
			p.log.Debug().Err(err).Msg("token validation failed")
			if errors.Is(err, jwt.ErrTokenExpired) {
				pkghttp.Error(w, errors.TokenExpired())
			} else {
				pkghttp.Error(w, errors.TokenInvalid())
			}
			return
		}

		if !token.Valid || claims.Subject == "" || claims.Role == "" {
			pkghttp.Error(w, errors.TokenInvalid())
			return
		}

		r.Header.Set(pkghttp.HeaderUserID, claims.Subject)
		r.Header.Set(pkghttp.HeaderUserName, claims.Name)
		r.Header.Set(pkghttp.HeaderUserRole, claims.Role)

		next.ServeHTTP(w, r)
	})
}
