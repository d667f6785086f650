package ai

// ExtractPrompt instructs the model to identify entities and relationships
// in one chunk of text.
const ExtractPrompt = `
# Task Context
You are extracting a knowledge graph from a text document.

# Detailed Task Description & Rules
- Identify all relevant entities in the text. Allowed entity types: %s.
- Entity names are written with all letters capitalized.
- For each pair of clearly related entities, record one relationship with a description of why they are related and a strength score from 1 to 10.
- Only extract what the text states. Do not infer entities or relationships from general knowledge.
- Every entity needs a name, a type from the allowed list, and a description grounded in the text.
`

// QueryPrompt grounds answer generation in retrieved context. The context
// lines carry source ids; the model is instructed to cite them and to refuse
// rather than invent facts that are not present.
const QueryPrompt = `
# Task Context
You are a helpful assistant answering questions strictly from the provided knowledge base context.

# Background Data
%s

# Detailed Task Description & Rules
- Answer only from the context above. Never use outside knowledge.
- Every context line starts with an id in the form [[id]]. When a statement in your answer relies on a line, cite its id verbatim, e.g. "The notice period is 30 days [[abc123]]."
- If the context does not contain the information needed, say so explicitly instead of guessing.
- Keep numeric values (amounts, day counts, dates) exactly as written in the context.
- Respond as %s.
`

// NoDataPrompt produces an explicit "no information" response when retrieval
// found nothing relevant.
const NoDataPrompt = `
# Task Context
You are a helpful assistant. The knowledge base contains no information relevant to the user's question.

# Immediate Task Description or Request
Tell the user, in one or two sentences and in the language of their question, that the knowledge base does not contain this information. Do not speculate or answer from general knowledge.

User question: "%s"
`

// CommunitySummaryPrompt condenses one graph community into a thematic summary.
const CommunitySummaryPrompt = `
# Task Context
You are summarizing one community of a knowledge graph: a group of closely connected entities and their relationships.

# Background Data
%s

# Detailed Task Description & Rules
- Write a dense, factual summary of the community: what it is about, its key entities, and how they relate.
- Preserve concrete facts verbatim (names, amounts, day counts, dates).
- Do not add information that is not present in the data.
- 5-8 sentences, plain prose, no headings.
`

// ClusterSummaryPrompt condenses a cluster of text passages into one summary
// node for the hierarchical summarization tree.
const ClusterSummaryPrompt = `
# Task Context
You are building a hierarchical summary index. The passages below were grouped by semantic similarity.

# Background Data
%s

# Detailed Task Description & Rules
- Write one summary that covers the shared subject matter of all passages.
- Preserve concrete facts verbatim (names, amounts, day counts, dates).
- Do not add information that is not present in the passages.
- 4-6 sentences, plain prose, no headings.
`

// MapPrompt asks for a partial answer from the perspective of a single
// community. Used by the map step of the thematic retriever.
const MapPrompt = `
# Task Context
You are answering a question using only the summary of one knowledge-graph community.

# Background Data
Community summary:
%s

# Detailed Task Description & Rules
- Answer the question using only the community summary above.
- If the summary contributes nothing to the question, return an empty answer and score 0.
- Score how relevant this community is to the question from 0 to 100.

User question: "%s"
`

// ReducePrompt synthesizes the final thematic answer from partial answers.
const ReducePrompt = `
# Task Context
You are synthesizing a final answer from partial answers, each produced from one community of a knowledge graph.

# Background Data
%s

# Detailed Task Description & Rules
- Merge the partial answers into one coherent answer to the user's question.
- Resolve overlap; do not repeat the same fact twice.
- Only use facts present in the partial answers. Preserve citations of the form [[id]] exactly as they appear.
- If the partial answers are all empty, say that the knowledge base does not cover the question.

User question: "%s"
`

// DecomposePrompt breaks a complex question into concrete sub-questions,
// grounded in what the knowledge base appears to cover.
const DecomposePrompt = `
# Task Context
You are planning a multi-step retrieval over a knowledge graph.

# Background Data
Overview of relevant knowledge-base themes:
%s

# Detailed Task Description & Rules
- Break the user's question into at most %d concrete sub-questions that can each be answered by a targeted lookup.
- Each sub-question must be self-contained (no pronouns referring to the original question).
- Prefer sub-questions the themes above suggest the knowledge base can answer.
- If the question is already simple, return it as the single sub-question.

User question: "%s"
`

// EvaluatePrompt scores whether retrieved evidence suffices to answer a
// sub-question, and proposes follow-ups when it does not.
const EvaluatePrompt = `
# Task Context
You are evaluating whether retrieved evidence answers a sub-question.

# Background Data
Evidence:
%s

# Detailed Task Description & Rules
- Judge only from the evidence above.
- confidence is 0-100: how completely the evidence answers the sub-question.
- If confidence is high, write the answer, citing evidence ids of the form [[id]] verbatim.
- If confidence is low, propose at most %d follow-up questions that would close the gap. Follow-ups must be answerable by the same knowledge base.

Sub-question: "%s"
`

// SynthesizePrompt combines resolved sub-answers into the final multi-hop answer.
const SynthesizePrompt = `
# Task Context
You are writing the final answer of a multi-step retrieval run.

# Background Data
Resolved sub-questions and their answers, in exploration order:
%s

# Detailed Task Description & Rules
- Answer the user's original question from the sub-answers above.
- Only use facts present in the sub-answers. Preserve citations of the form [[id]] exactly as they appear.
- Note open aspects explicitly when sub-questions stayed unresolved.

User question: "%s"
`

// RewritePrompt is the booster's single constrained rewrite: it reinserts
// anchors that appear in the evidence but are missing from the answer.
const RewritePrompt = `
# Task Context
You are revising an answer so that it includes specific facts that its supporting evidence contains but the answer omitted.

# Background Data
Evidence:
%s

Current answer:
%s

# Detailed Task Description & Rules
- Rewrite the answer so that it includes each of the following values verbatim: %s
- Every added statement must come from the evidence above. Do not introduce any number, amount, or date that is absent from the evidence.
- Keep the rest of the answer, including its [[id]] citations, unchanged as far as possible.
- Return only the rewritten answer.
`
