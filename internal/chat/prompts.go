package chat

// System prompts differ by grounding provenance: answers from article
// chunks follow the stricter discipline, web-grounded answers must
// disclose their source.
const (
	systemPromptInternal = "You are a helpful assistant for readers of an article. " +
		"Answer only from the provided documents. If the documents do not contain " +
		"the answer, say so explicitly instead of guessing. Answer in the language " +
		"of the user's question."

	systemPromptWeb = "You are a helpful assistant for readers of an article. " +
		"Answer only from the provided documents, which come from a live web search. " +
		"Answer in the language of the user's question, and end your answer with " +
		"the exact line: " + webSourceTrailer

	// Trailer appended to every web-grounded answer.
	webSourceTrailer = "المصدر: نتائج البحث على الإنترنت"

	// Shown when no grounding documents could be resolved at all.
	systemPromptUngrounded = "You are a helpful assistant for readers of an article. " +
		"No reference documents are available for this question. Answer briefly from " +
		"general knowledge if you are confident, otherwise politely decline. Answer " +
		"in the language of the user's question."
)

// User-facing redirect and error strings. The platform's chat surface is
// Arabic-first; candidates carry their own titles in either language.
const (
	msgChooseArticle = "يبدو أن سؤالك خارج نطاق هذه المقالة. اختر مقالة من القائمة التالية:"

	msgRelatedArticles = "لم أجد إجابة في هذه المقالة، لكن وجدت مقالات ذات صلة قد تفيدك:"

	// GenericErrorMessage replaces error detail outside development.
	GenericErrorMessage = "عذراً، حدث خطأ غير متوقع. يرجى المحاولة مرة أخرى."
)
