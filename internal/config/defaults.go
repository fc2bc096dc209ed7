package config

// GetDefaultTemplate returns the prompt used when [template] has no text.
// The answer text is shortenable; the mask resolves to the relevance label.
func GetDefaultTemplate() string {
	return `Answer: {text_a:shortenable} Is this answer relevant to the question? {mask}`
}

// GetDefaultSystemPrompt returns the chat system prompt. It is a
// text/template rendered with the model family and name.
func GetDefaultSystemPrompt() string {
	return `You are a medical question answering assistant fine-tuned from {{.ModelName}} ({{.ModelFamily}}).
Answer the user's question from consumer health knowledge. Say when you are unsure and recommend consulting a clinician for personal medical advice.`
}
