// Package telegram verifies Mini App init data and talks to the Bot API.
//
// INIT DATA SIGNATURE:
// When Telegram opens a Mini App it hands the page a query string (initData)
// signed with a key derived from the bot token:
//
//	secret   = HMAC_SHA256(key = "WebAppData", msg = botToken)
//	checkStr = sorted "key=value" pairs (everything except hash) joined by "\n"
//	hash     = hex(HMAC_SHA256(key = secret, msg = checkStr))
//
// The page forwards initData with every API call. Recomputing the hash on
// the server proves the payload came from Telegram and was not edited.
package telegram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/roblox-stats/internal/apperror"
)

const (
	hashField     = "hash"
	userField     = "user"
	authDateField = "auth_date"

	// webAppDataKey is the fixed HMAC key Telegram uses to derive the secret.
	webAppDataKey = "WebAppData"

	// DefaultMaxAge is how long signed init data stays acceptable.
	DefaultMaxAge = 24 * time.Hour
)

// Identity is the user claim carried inside verified init data.
type Identity struct {
	ID           int64     `json:"id"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name,omitempty"`
	Username     string    `json:"username,omitempty"`
	LanguageCode string    `json:"language_code,omitempty"`
	IsPremium    bool      `json:"is_premium,omitempty"`
	PhotoURL     string    `json:"photo_url,omitempty"`
	AuthDate     time.Time `json:"-"`
}

// Verifier checks init data against one bot token.
//
// A Verifier holds no mutable state after construction, so one value can be
// shared by every request goroutine.
type Verifier struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewVerifier derives the signing secret from botToken.
//
// maxAge bounds how old auth_date may be. Zero or a negative value turns the
// age check off.
func NewVerifier(botToken string, maxAge time.Duration) *Verifier {
	return &Verifier{
		secret: secretKey(botToken),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Verify authenticates initData and returns the identity it carries.
//
// Every failure returns apperror.Unauthenticated(), the same value whatever
// went wrong, so callers can't tell a bad hash from a malformed payload.
func (v *Verifier) Verify(initData string) (*Identity, error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return nil, apperror.Unauthenticated()
	}

	// Repeated keys make the check string ambiguous.
	for _, vs := range values {
		if len(vs) != 1 {
			return nil, apperror.Unauthenticated()
		}
	}

	supplied, err := hex.DecodeString(values.Get(hashField))
	if err != nil || len(supplied) != sha256.Size {
		return nil, apperror.Unauthenticated()
	}

	// hmac.Equal runs in constant time. A plain == would leak how many
	// leading bytes matched.
	if !hmac.Equal(v.sign(values), supplied) {
		return nil, apperror.Unauthenticated()
	}

	var authDate time.Time
	if raw := values.Get(authDateField); raw != "" {
		secs, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, apperror.Unauthenticated()
		}
		authDate = time.Unix(secs, 0)
	}
	if v.maxAge > 0 {
		if authDate.IsZero() || v.now().Sub(authDate) > v.maxAge {
			return nil, apperror.Unauthenticated()
		}
	}

	rawUser := values.Get(userField)
	if rawUser == "" {
		return nil, apperror.Unauthenticated()
	}
	var id Identity
	if err := json.Unmarshal([]byte(rawUser), &id); err != nil || id.ID == 0 {
		return nil, apperror.Unauthenticated()
	}
	id.AuthDate = authDate

	return &id, nil
}

// sign returns the raw HMAC of values, ignoring any hash field.
func (v *Verifier) sign(values url.Values) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(checkString(values)))
	return mac.Sum(nil)
}

// Sign returns the hex hash Telegram would attach to values for botToken.
// Any existing hash field is ignored.
func Sign(values url.Values, botToken string) string {
	v := &Verifier{secret: secretKey(botToken)}
	return hex.EncodeToString(v.sign(values))
}

// BuildInitData returns init data for identity as Telegram would produce it,
// signed with botToken. Used by tests and local tooling.
func BuildInitData(botToken string, identity Identity, authDate time.Time) string {
	user, _ := json.Marshal(identity)
	values := url.Values{}
	values.Set(userField, string(user))
	values.Set(authDateField, strconv.FormatInt(authDate.Unix(), 10))
	values.Set(hashField, Sign(values, botToken))
	return values.Encode()
}

// checkString renders every field except hash as sorted key=value lines.
func checkString(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k == hashField {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(values.Get(k))
	}
	return b.String()
}

func secretKey(botToken string) []byte {
	mac := hmac.New(sha256.New, []byte(webAppDataKey))
	mac.Write([]byte(botToken))
	return mac.Sum(nil)
}
