package session

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/tokmz/lovpulse/pkg/errors"
)

// Keys 会话 JSON 中的身份字段名
type Keys struct {
	UserID   string `mapstructure:"user_id"`
	Username string `mapstructure:"username"`
	Admin    string `mapstructure:"admin"`
}

// DefaultKeys 默认字段名
func DefaultKeys() Keys {
	return Keys{UserID: "userId", Username: "username", Admin: "isAdmin"}
}

// decodeIdentity 从会话 JSON 中提取身份
// 兼容顶层字段与嵌套的 user 对象两种写法
func decodeIdentity(raw []byte, keys Keys) (*Identity, error) {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrNoSession, err)
	}

	if _, has := data[keys.UserID]; !has {
		if user, ok := data["user"].(map[string]any); ok {
			if _, has := user[keys.UserID]; !has {
				user[keys.UserID] = user["id"]
			}
			data = user
		}
	}

	uid, err := toUserID(data[keys.UserID])
	if err != nil || uid <= 0 {
		return nil, errors.ErrNoSession
	}

	id := &Identity{UserID: uid}
	id.Username, _ = data[keys.Username].(string)
	switch v := data[keys.Admin].(type) {
	case bool:
		id.IsAdmin = v
	case float64:
		id.IsAdmin = v != 0
	case string:
		id.IsAdmin = v == "true" || v == "1"
	}
	return id, nil
}

func toUserID(v any) (int64, error) {
	switch x := v.(type) {
	case float64:
		return int64(x), nil
	case string:
		return parseUserID(x)
	case json.Number:
		return x.Int64()
	default:
		return 0, fmt.Errorf("unsupported user id type %T", v)
	}
}

func parseUserID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
