package domain

import "strings"

// 模型名通过后缀携带功能开关：search 联网、think/r1 深度思考、
// silent 静默不输出思考、fold 折叠思考过程。

func IsSearchModel(model string) bool {
	return strings.Contains(model, "search")
}

func IsThinkingModel(model string) bool {
	return strings.Contains(model, "think") || strings.Contains(model, "r1")
}

func IsSilentModel(model string) bool {
	return strings.Contains(model, "silent")
}

func IsFoldModel(model string) bool {
	return strings.Contains(model, "fold")
}
