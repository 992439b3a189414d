package service

import (
	"regexp"
	"strings"

	"github.com/Wei-Shaw/ds2api/internal/domain"
)

var citationPattern = regexp.MustCompile(`\[citation:\d+\]`)

// MessageProcessor 把 OpenAI 形态的消息列表整理成上游接受的单段 prompt，
// 并负责流式回包内容的思考/搜索标记处理
type MessageProcessor struct{}

func NewMessageProcessor() *MessageProcessor {
	return &MessageProcessor{}
}

type roleBlock struct {
	role string
	text string
}

// PrepareMessages 提取文本、合并连续同角色消息，再按角色打上会话标签。
// 首个 user/system 块不加标签，assistant 块包上 Assistant 标记与句尾符。
func (p *MessageProcessor) PrepareMessages(messages []domain.ChatMessage) string {
	if len(messages) == 0 {
		return ""
	}

	blocks := make([]roleBlock, 0, len(messages))
	for _, msg := range messages {
		text := extractTextContent(msg.Content)
		if n := len(blocks); n > 0 && blocks[n-1].role == msg.Role {
			blocks[n-1].text += "\n\n" + text
			continue
		}
		blocks = append(blocks, roleBlock{role: msg.Role, text: text})
	}

	var sb strings.Builder
	for i, block := range blocks {
		switch block.role {
		case "assistant":
			sb.WriteString("<｜Assistant｜>")
			sb.WriteString(block.text)
			sb.WriteString("<｜end▁of▁sentence｜>")
		case "user", "system":
			if i > 0 {
				sb.WriteString("<｜User｜>")
			}
			sb.WriteString(block.text)
		default:
			sb.WriteString(block.text)
		}
	}
	return sb.String()
}

func extractTextContent(content domain.MessageContent) string {
	if content.Parts == nil {
		return content.Text
	}
	texts := make([]string, 0, len(content.Parts))
	for _, part := range content.Parts {
		if part.Type == "text" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// streamState 跨 SSE chunk 保持的处理状态
type streamState struct {
	thinkingActive bool
	refContent     strings.Builder
}

// ProcessStreamContent 处理一段流式回包内容。
// 返回 (输出内容, 是否输出)：silent 模式下思考内容被整段吞掉。
func (p *MessageProcessor) ProcessStreamContent(content, model string, state *streamState) (string, bool) {
	thinking := domain.IsThinkingModel(model)
	search := domain.IsSearchModel(model)
	silent := domain.IsSilentModel(model)
	fold := domain.IsFoldModel(model)

	if search && !silent && strings.Contains(content, "检索") {
		state.refContent.WriteString(content)
		state.refContent.WriteByte('\n')
		return content, true
	}

	if thinking {
		switch {
		case fold && !state.thinkingActive && strings.Contains(content, "[思考"):
			state.thinkingActive = true
			return "<details><summary>思考过程</summary><pre>", true
		case fold && state.thinkingActive && strings.Contains(content, "[思考结束]"):
			state.thinkingActive = false
			return "</pre></details>", true
		case silent && (strings.Contains(content, "[思考") || strings.Contains(content, "思考过程")):
			return "", false
		case !fold && !silent && !state.thinkingActive && strings.Contains(content, "[思考"):
			state.thinkingActive = true
			return "[思考开始]\n", true
		case !fold && !silent && state.thinkingActive && strings.Contains(content, "[思考结束]"):
			state.thinkingActive = false
			return "\n\n[思考结束]\n", true
		}
	}

	return removeCitations(content), true
}

// AddSearchReferences 在最终内容后追加累计的搜索来源
func (p *MessageProcessor) AddSearchReferences(content string, state *streamState) string {
	refs := state.refContent.String()
	if refs == "" {
		return content
	}
	trimmed := strings.TrimLeft(content, "\n")
	return trimmed + "\n\n搜索结果来自：\n" + removeCitations(refs)
}

func removeCitations(content string) string {
	return citationPattern.ReplaceAllString(content, "")
}
