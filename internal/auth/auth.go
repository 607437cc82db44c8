package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials возвращается одинаково для неизвестного email и
// неверного пароля, чтобы не подсказывать перебору, что именно не так.
var ErrInvalidCredentials = errors.New("invalid credentials")

var ErrInvalidToken = errors.New("invalid token")

// Authenticator выдаёт и проверяет HS256-токены единственного
// административного аккаунта. Само ядро отправлений аутентификацию не
// делает: дальше по стеку уходит только доверенная строка actor.
type Authenticator struct {
	secret       []byte
	ttl          time.Duration
	adminEmail   string
	passwordHash []byte
}

func New(secret string, ttl time.Duration, adminEmail, adminPasswordHash string) *Authenticator {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Authenticator{
		secret:       []byte(secret),
		ttl:          ttl,
		adminEmail:   adminEmail,
		passwordHash: []byte(adminPasswordHash),
	}
}

func (a *Authenticator) Login(email, password string) (string, error) {
	if email != a.adminEmail {
		return "", ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)) != nil {
		return "", ErrInvalidCredentials
	}

	now := time.Now().UTC()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   email,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	})
	signed, err := tok.SignedString(a.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}

// Verify возвращает actor (email из subject) для валидного токена.
func (a *Authenticator) Verify(tokenString string) (string, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !tok.Valid {
		return "", ErrInvalidToken
	}
	claims, ok := tok.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// HashPassword — утилита для генерации значения admin_password_hash.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.Wrap(err, "bcrypt")
	}
	return string(b), nil
}
