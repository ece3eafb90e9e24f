package pipeline

import "fmt"

// evaluatorSystemPrompt pins the evaluator to a boolean answer.
const evaluatorSystemPrompt = "You are a strict evaluator. Return only TRUE or FALSE."

func translatePrompt(name, language string) string {
	return fmt.Sprintf(`You convert person names into %s script using phonemes, so the name sounds the same when read aloud.
Reply with the converted name only. Do not add explanations, quotes or any other text.
Name: %s`, language, name)
}

func evaluationPrompt(prompt, transcript string) string {
	return prompt + "\n\n\nChat Transcript:\n" + transcript + "\n\n\n"
}
