package fortune

import (
	"fmt"
	"strings"
)

const unknownCard = "未知"

// SystemPrompt frames the model as a combined bazi and tarot reader
const SystemPrompt = `你是一位精通《周易》、八字命理与西方塔罗的玄学大师。
你需要结合用户的【八字五行】和抽到的【塔罗牌】，回答用户的具体问题。
回答风格：神秘、优美、但在建议上要具体实用。
**重要：回答必须简洁，控制在150字以内，直接给出核心建议。**`

// VoiceSystemPrompt is used for spoken questions, where the reply is read
// aloud and must stay short and free of markup.
const VoiceSystemPrompt = `你是一位温和的塔罗占卜师，正在通过语音与用户交谈。
请用口语化的中文回答，不要使用任何 Markdown 符号或列表。
回答控制在80字以内。`

var cardPositions = []string{"过去/根源", "现在/现状", "未来/建议"}

// UserPrompt assembles the reading request. Missing cards are shown as 未知.
func UserPrompt(name string, bazi Bazi, question string, cards []string) string {
	var sb strings.Builder

	sb.WriteString("【用户信息】\n")
	fmt.Fprintf(&sb, "- 姓名：%s\n", name)
	fmt.Fprintf(&sb, "- 八字日主：%s (五行属%s)\n", bazi.DayMaster, bazi.Element)
	fmt.Fprintf(&sb, "- 农历日期：%s\n\n", bazi.LunarDate)

	sb.WriteString("【用户问题】\n")
	fmt.Fprintf(&sb, "\"%s\"\n\n", question)

	sb.WriteString("【抽牌结果】\n")
	for i, position := range cardPositions {
		card := unknownCard
		if i < len(cards) && cards[i] != "" {
			card = cards[i]
		}
		fmt.Fprintf(&sb, "%d. %s：%s\n", i+1, position, card)
	}

	sb.WriteString("\n【推演要求】\n")
	sb.WriteString("1. 简洁分析八字五行与今日运势的关系（1-2句）。\n")
	sb.WriteString("2. 结合塔罗牌义解释问题（1-2句）。\n")
	sb.WriteString("3. 给出直接的建议（比如颜色、方位、时间），控制在50字以内。\n")
	sb.WriteString("4. **总字数不超过150字，避免冗长描述。**\n")

	return sb.String()
}
