package backplane

import (
	"encoding/json"
	"time"
)

// Target 投递目标：全部用户或指定用户
type Target struct {
	All   bool    `json:"all,omitempty"`
	Users []int64 `json:"users,omitempty"`
}

// Envelope 跨进程复制的分发事件
type Envelope struct {
	ID     string            `json:"id"`
	Origin string            `json:"origin"`
	Target Target            `json:"target"`
	Frame  json.RawMessage   `json:"frame"`
	SentAt time.Time         `json:"sentAt"`
	Trace  map[string]string `json:"trace,omitempty"`
}

// Encode 序列化
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode 反序列化
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
