package service

import (
	"testing"

	"github.com/Wei-Shaw/ds2api/internal/domain"

	"github.com/stretchr/testify/assert"
)

func textMessage(role, text string) domain.ChatMessage {
	return domain.ChatMessage{Role: role, Content: domain.MessageContent{Text: text}}
}

func TestPrepareMessages_Empty(t *testing.T) {
	p := NewMessageProcessor()
	assert.Empty(t, p.PrepareMessages(nil))
}

func TestPrepareMessages_RoleTags(t *testing.T) {
	p := NewMessageProcessor()
	prompt := p.PrepareMessages([]domain.ChatMessage{
		textMessage("user", "Hello"),
		textMessage("assistant", "Hi there!"),
		textMessage("user", "How are you?"),
	})

	assert.Equal(t, "Hello<｜Assistant｜>Hi there!<｜end▁of▁sentence｜><｜User｜>How are you?", prompt)
}

func TestPrepareMessages_MergesSameRole(t *testing.T) {
	p := NewMessageProcessor()
	prompt := p.PrepareMessages([]domain.ChatMessage{
		textMessage("system", "You are helpful."),
		textMessage("system", "Be brief."),
		textMessage("user", "Hi"),
	})

	// 连续 system 合并为一块，后续 user 块带标签
	assert.Equal(t, "You are helpful.\n\nBe brief.<｜User｜>Hi", prompt)
}

func TestPrepareMessages_ArrayContent(t *testing.T) {
	p := NewMessageProcessor()
	prompt := p.PrepareMessages([]domain.ChatMessage{
		{Role: "user", Content: domain.MessageContent{Parts: []domain.ContentPart{
			{Type: "text", Text: "Hello"},
			{Type: "image_url", ImageURL: map[string]any{"url": "https://example.com/x.png"}},
			{Type: "text", Text: "World"},
		}}},
	})

	assert.Equal(t, "Hello\nWorld", prompt)
}

func TestProcessStreamContent_RemovesCitations(t *testing.T) {
	p := NewMessageProcessor()
	state := &streamState{}

	out, ok := p.ProcessStreamContent("answer [citation:1] more [citation:23].", "deepseek", state)
	assert.True(t, ok)
	assert.Equal(t, "answer  more .", out)
}

func TestProcessStreamContent_ThinkingMarkers(t *testing.T) {
	p := NewMessageProcessor()
	state := &streamState{}

	out, ok := p.ProcessStreamContent("[思考中]", "deepseek-think", state)
	assert.True(t, ok)
	assert.Equal(t, "[思考开始]\n", out)
	assert.True(t, state.thinkingActive)

	out, ok = p.ProcessStreamContent("[思考结束]", "deepseek-think", state)
	assert.True(t, ok)
	assert.Equal(t, "\n\n[思考结束]\n", out)
	assert.False(t, state.thinkingActive)
}

func TestProcessStreamContent_FoldMode(t *testing.T) {
	p := NewMessageProcessor()
	state := &streamState{}

	out, _ := p.ProcessStreamContent("[思考中]", "deepseek-think-fold", state)
	assert.Equal(t, "<details><summary>思考过程</summary><pre>", out)

	out, _ = p.ProcessStreamContent("[思考结束]", "deepseek-think-fold", state)
	assert.Equal(t, "</pre></details>", out)
}

func TestProcessStreamContent_SilentModeDropsThinking(t *testing.T) {
	p := NewMessageProcessor()
	state := &streamState{}

	_, ok := p.ProcessStreamContent("[思考中]", "deepseek-think-silent", state)
	assert.False(t, ok)

	out, ok := p.ProcessStreamContent("final answer", "deepseek-think-silent", state)
	assert.True(t, ok)
	assert.Equal(t, "final answer", out)
}

func TestProcessStreamContent_SearchAccumulatesRefs(t *testing.T) {
	p := NewMessageProcessor()
	state := &streamState{}

	out, ok := p.ProcessStreamContent("已检索到 3 个结果", "deepseek-search", state)
	assert.True(t, ok)
	assert.Equal(t, "已检索到 3 个结果", out)

	final := p.AddSearchReferences("\nanswer", state)
	assert.Equal(t, "answer\n\n搜索结果来自：\n已检索到 3 个结果\n", final)
}

func TestAddSearchReferences_NoRefs(t *testing.T) {
	p := NewMessageProcessor()
	assert.Equal(t, "\nanswer", p.AddSearchReferences("\nanswer", &streamState{}))
}
