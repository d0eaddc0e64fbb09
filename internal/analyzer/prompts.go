package analyzer

const threadPrompt = `You are an editor deciding whether an ongoing local news story needs follow-up coverage.

Story: %s
Status: %s
Summary: %s
Days since the last article: %s
Monitoring keywords: %s
Key people: %s

Recent coverage (newest first):
%s

Respond with ONLY this JSON:
{
    "needs_followup": true or false,
    "is_resolved": true or false,
    "resolution_type": "outcome label if resolved, otherwise empty",
    "reason": "One sentence explaining your judgment",
    "should_continue_monitoring": true or false,
    "recommended_status": "developing" | "monitoring" | "dormant" | "resolved" | ""
}

needs_followup: readers would expect an update now. is_resolved: the story has reached a clear conclusion.`

const articlePrompt = `You are an editor classifying a news article.

Is this article part of an ONGOING story that will develop further (a pending decision, an investigation,
a trial, construction, a dispute, an upcoming vote or event)? One-off items such as obituaries,
recipes, reviews or completed events are not ongoing.

Article Title: %s
Source: %s
Content:
%s

Respond with ONLY this JSON:
{
    "is_ongoing_story": true or false
}`

const matchPrompt = `You are an editor linking a new article to the story it continues.

New article title: %s
Content:
%s

Candidate stories:
%s

Respond with ONLY this JSON:
{
    "thread_id": <id of the story this article continues, or 0 if none>
}

Only pick a story when the article is clearly about the same events.`

const draftPrompt = `You are an editor opening a tracking file for a developing news story.

Article Title: %s
Source: %s
Content:
%s

Today is %s.

Respond with ONLY this JSON:
{
    "title": "Short neutral story title",
    "summary": "Two sentences on what is happening",
    "monitoring_keywords": ["3-6 search keywords for new developments"],
    "key_people": [{"name": "Full Name", "role": "their role in the story"}],
    "resolution_keywords": ["words that would appear once the story concludes, e.g. verdict, approved"],
    "upcoming_events": [{"name": "event name", "date": "YYYY-MM-DD"}]
}

Only list upcoming events with a known date after today.`

const suggestPrompt = `You are an assignment editor planning follow-up coverage.

Story: %s
Status: %s
Summary: %s

Coverage so far (newest first):
%s

Suggest up to 3 follow-up pieces. Respond with ONLY this JSON:
{
    "suggestions": [
        {
            "angle": "update" | "explainer" | "profile" | "preview" | "investigation" | "reaction",
            "headline": "Working headline",
            "rationale": "Why readers need this now",
            "priority": "high" | "medium" | "low"
        }
    ]
}`
