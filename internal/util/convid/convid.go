// Package convid 处理对外暴露的对话 ID 编码。
// 多轮对话的 ID 形如 "<chat_session_id>@<parent_message_id>"，
// 客户端带着它回来即可从指定消息继续。
package convid

import (
	"fmt"
	"regexp"
	"strconv"
)

var pattern = regexp.MustCompile(`^([0-9a-z\-]{36})@([0-9]+)$`)

// Parse 拆出上游会话 ID 与父消息 ID；格式不符返回 false
func Parse(conversationID string) (sessionID string, parentMsgID int64, ok bool) {
	m := pattern.FindStringSubmatch(conversationID)
	if m == nil {
		return "", 0, false
	}
	parent, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return m[1], parent, true
}

// Format 组合上游会话 ID 与父消息 ID
func Format(sessionID string, parentMsgID int64) string {
	return fmt.Sprintf("%s@%d", sessionID, parentMsgID)
}
