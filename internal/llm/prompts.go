package llm

import (
	"fmt"
	"strings"

	"github.com/R3E-Network/audio-verifier/internal/session"
)

// transcriptionInstruction requests closed-caption style output with speaker
// labels and sound annotations.
const transcriptionInstruction = `Transcribe this audio with enhanced closed caption style formatting.

Include:
- Speaker labels if multiple speakers detected (e.g., "Speaker 1:", "Speaker 2:", or use names if identifiable)
- Sound effects in parentheses (e.g., "(bird calls)", "(door slam)", "(music playing)", "(applause)")
- Unintelligible sections as "(unintelligible)"
- Environmental sounds as "(ambient noise)", "(traffic sounds)", "(wind)", etc.
- Non-speech vocalizations as "(laughter)", "(sighs)", "(coughs)", "(gasps)", etc.
- Musical elements as "(music)", "(singing)", "(instrumental)", etc.

Format example:
Speaker 1: Hello, how are you doing today? (background music)
Speaker 2: I'm great, thanks! (door opens) Oh, someone's here.
(footsteps approaching)
Speaker 3: Hey everyone! (unintelligible)

Provide clean, readable transcript with these annotations. Each speaker's dialogue should start on a new line.`

// transcriptSampleLimit bounds how much transcript is embedded in analysis
// prompts.
const transcriptSampleLimit = 2000

func transcriptSample(transcript string) string {
	if len(transcript) > transcriptSampleLimit {
		return transcript[:transcriptSampleLimit] + "..."
	}
	return transcript
}

func orNotSpecified(s string) string {
	if s == "" {
		return "Not specified"
	}
	return s
}

// BuildAnalysisPrompt assembles the analysis prompt from dataset metadata,
// the user-provided categorization, the technical quality summary, and the
// leading slice of the transcript.
func BuildAnalysisPrompt(transcript string, meta *session.InitialData, quality *session.QualityResult) string {
	var audioMeta string
	if quality != nil {
		audioMeta = fmt.Sprintf(`- Duration: %.1fs
- Sample Rate: %dHz
- Channels: %d
- Bit Depth: %d`, quality.Duration, quality.SampleRate, quality.Channels, quality.BitDepth)
	}

	title := "Unknown"
	description := "No description"
	var languages, tags []string
	var cat session.Categorization
	if meta != nil {
		if meta.Title != "" {
			title = meta.Title
		}
		if meta.Description != "" {
			description = meta.Description
		}
		languages = meta.Languages
		tags = meta.Tags
		cat = meta.Categorization
	}

	return fmt.Sprintf(`You are an expert audio dataset quality analyst for a decentralized audio data marketplace. Analyze this audio dataset submission and provide a comprehensive, detailed quality assessment with transparent reasoning.

## Dataset Metadata
- Title: %s
- Description: %s
- Languages: %s
- Tags: %s

## Content Categorization (User-Provided)
- Use Case: %s
- Content Type: %s
- Domain: %s

## Audio Technical Specs
%s

## Transcript Sample
%s

## Analysis Required

Provide your analysis in the following JSON format with detailed reasoning:

`+"```json"+`
{
  "qualityScore": 0.85,
  "suggestedPrice": 5.0,
  "safetyPassed": true,
  "rarityScore": 60,
  "overallSummary": "2-3 sentence narrative describing the audio's overall quality, clarity, and key characteristics",
  "qualityAnalysis": {
    "clarity": {"score": 0.9, "reasoning": "Explanation of clarity assessment"},
    "contentValue": {"score": 0.8, "reasoning": "Explanation of content value for AI training"},
    "metadataAccuracy": {"score": 0.85, "reasoning": "Explanation of how well content matches provided metadata"},
    "completeness": {"score": 0.8, "reasoning": "Explanation of completeness"}
  },
  "priceAnalysis": {
    "basePrice": 3.0,
    "qualityMultiplier": 1.4,
    "rarityMultiplier": 1.0,
    "finalPrice": 5.0,
    "breakdown": "Step-by-step explanation of pricing calculation"
  },
  "insights": ["Key strength or characteristic 1", "Key strength or characteristic 2"],
  "concerns": ["Any quality concerns (if applicable)"],
  "recommendations": {
    "critical": ["High-priority improvements needed"],
    "suggested": ["Recommended improvements"],
    "optional": ["Nice-to-have enhancements"]
  }
}
`+"```"+`

### Quality Scoring Criteria (0-1 scale):
- **Audio Clarity** (0.3): Is the transcript coherent? Minimal transcription errors? Clear speaker articulation?
- **Content Value** (0.3): Is the content meaningful, diverse, and useful for AI training?
- **Metadata Accuracy** (0.2): Does the content match the provided metadata? Verify the user-provided categorization against the actual audio content and flag mismatches in "concerns" with specific details.
- **Completeness** (0.2): Is the content complete without obvious truncation?

**Default Quality Score**: If the audio is average/unremarkable with no notable quality issues or standout features, use 0.5 (50%%) as the default baseline score.

### Rarity Score (0-100):
Estimate how unique this dataset is compared to commonly available audio data. 0 means saturated/commodity content, 100 means exceptionally rare subject matter.

### Purchase Price Suggestion (3-10):
Suggest a fair market price (minimum: 3, maximum: 10) based on quality, uniqueness, duration, and metadata richness. Show your calculation: base price x quality multiplier x rarity multiplier.

### Safety Screening:
Flag as unsafe (safetyPassed: false) ONLY if content contains:
- Sexually explicit content or pornography
- Graphic violence, gore, or disturbing violent imagery
- Copyrighted material (recognizable songs, music, or audio from movies/TV/radio)

All other content is acceptable. Conversational datasets with profanity, political discussion, or other sensitive topics are ACCEPTABLE.

### Insights:
Provide 3-5 specific, actionable insights. **If there are no notable insights**, use an empty array: "insights": []

### Concerns:
List specific quality or content issues found. **If there are no concerns**, use an empty array: "concerns": []

### Recommendations:
Categorize suggestions by priority. **If there are no recommendations**, use: "recommendations": {"critical": [], "suggested": [], "optional": []}

Respond ONLY with the JSON object, no additional text.`,
		title,
		description,
		strings.Join(languages, ", "),
		strings.Join(tags, ", "),
		orNotSpecified(cat.UseCase),
		orNotSpecified(cat.ContentType),
		orNotSpecified(cat.Domain),
		audioMeta,
		transcriptSample(transcript),
	)
}

// BuildPerFilePrompt assembles the per-file analysis prompt for multi-file
// datasets.
func BuildPerFilePrompt(transcript string, files []session.FileMetadata) string {
	var filesDescription strings.Builder
	for i, f := range files {
		title := f.Title
		if title == "" {
			title = fmt.Sprintf("File %d", i+1)
		}
		fmt.Fprintf(&filesDescription, "\n%d. %s", i+1, title)
		if f.Description != "" {
			fmt.Fprintf(&filesDescription, " - %s", f.Description)
		}
	}

	return fmt.Sprintf(`You are analyzing a multi-file audio dataset. Based on the transcript and file information, provide per-file quality insights.

## Files in Dataset:%s

## Transcript Sample
%s

Provide your analysis in the following JSON format:

`+"```json"+`
{
  "fileAnalyses": [
    {
      "fileIndex": 0,
      "title": "File Title",
      "score": 0.85,
      "summary": "One-sentence assessment of this file's quality",
      "strengths": ["Strength 1", "Strength 2"],
      "concerns": ["Concern 1"],
      "recommendations": ["Recommendation 1"]
    }
  ]
}
`+"```"+`

For each file:
- Estimate its relative quality based on the transcript
- Identify file-specific strengths and concerns
- Suggest improvements
- Keep assessments concise

Respond ONLY with the JSON object, no additional text.`,
		filesDescription.String(),
		transcriptSample(transcript),
	)
}
