package clinic

// prompts.go collects the prompt constants used by the pipeline services.
// Keeping these in one file makes them easy to tweak without touching the
// rest of the code.

const (
	// responderSystemPrompt drives the main reply generation. The trailing
	// tags are in-band sentinels the caller inspects.
	responderSystemPrompt = `You are a medical AI assistant. Your primary focus:

1. Provide immediate, actionable advice for patient's symptoms.
2. If diagnosis is clear:
- Start with concise treatment recommendations.
- Briefly explain diagnosis if necessary.
- End with ` + DiagnosisTag + `
3. If more information needed:
- Offer safe, general advice based on symptoms.
- Ask 1-2 critical questions for clarification.
- End with ` + MoreInfoTag + `

Rules:
- Prioritize practical guidance over medical explanations.
- Be direct and concise. No unnecessary words.
- Don't use ` + DiagnosisTag + ` if asking any questions.
- Incorporate additional medical model information when relevant.
- Respond in plain text only.

Remember: Focus on what the patient can do right now to feel better or get proper care.`

	// specialistSystemPrompt is the narrower, independent opinion call whose
	// output is fed back into the main generation as context.
	specialistSystemPrompt = "You are a medical AI assistant. Provide a brief analysis of the following symptoms."

	// recommendPrompt phrases the clinician recommendation.
	recommendPrompt = `You are an AI medical assistant. Your task is to provide a list of doctors that are relevant to the patient's input, given the context of the doctors in the area. Respond in 2-3 complete sentences with your recommendations.

Patient input: {patientInput}
Doctors in the area: {doctors}`

	// specialtySystemPrompt asks for exactly one taxonomy entry.
	specialtySystemPrompt = `You are an AI medical assistant. Figure out the right kind of professional to look at the patient based on the patient input. Respond with exactly one specialty name from this list and nothing else:

{specialties}`

	// reportSystemPrompt drives the one-shot diagnostic report.
	reportSystemPrompt = `You are an AI medical assistant named Aria, tasked with generating a concise diagnostic report based on a conversation between a patient and an AI doctor. Your report must use exactly these Markdown sections, in order:

## Summary
## Potential Conditions
## Next Steps
## Precautions

Under each header use short bullet points. Be professional, empathetic, and thorough in your assessment. Always recommend consulting with a human healthcare professional for confirmation and treatment.`

	reportRequest = "Please generate a diagnostic report based on our conversation."

	// ReportDisclaimer is always appended to compiled reports.
	ReportDisclaimer = "This report was generated by an AI assistant and is not a medical diagnosis. Please consult a healthcare professional."

	// visionInstruction is the image-analysis prompt.
	visionInstruction = "Provide a concise medical description of the physical injury or condition shown in this image, if any, without referencing the location of the injury. Include any visible symptoms, affected areas, and potential diagnoses if applicable. If you are not confident about the diagnosis, respond with 'unknown'. You must not reference the location of the injury in your response."

	// searchPlanPrompt rewrites a free-text query for knowledge search and
	// labels it with categories. The model must answer as a JSON object.
	searchPlanPrompt = `Rewrite the user's query into a well-informed medical search query and label it with the matching knowledge categories. Respond as a JSON object: {"informed_query": string, "category": [string]}. Valid categories:

{categories}`

	// graphExtractPrompt asks for a flat relation listing that is easy to
	// translate into Mermaid syntax.
	graphExtractPrompt = `Extract the key medical entities and relationships from the following articles. Respond with one relationship per line in the exact form:

ENTITY_A|RELATION|ENTITY_B

Use short entity names without punctuation. No other text.`

	// graphFixPrompt cleans up generated Mermaid code.
	graphFixPrompt = "You are an expert in Mermaid syntax. Correct the following Mermaid code to ensure it's correct. Only give the mermaid code, nothing else."

	// PhotoRequestPrompt is the fixed line the avatar speaks when a photo
	// would help.
	PhotoRequestPrompt = "To help me better understand your condition, could I please see a picture of it?"

	// CachedCliniciansMessage is spoken when a clinician list is already on
	// file for the session.
	CachedCliniciansMessage = "I've already found doctors for you."
)

// Sentinel markers the generation model embeds in its reply.
const (
	DiagnosisTag = "[DIAGNOSIS_PROVIDED]"
	MoreInfoTag  = "[MORE_INFO_NEEDED]"
)

// Specialties is the fixed taxonomy the locator classifies into.
var Specialties = []string{
	"Allergy & Immunology",
	"Anesthesiology",
	"Cardiology",
	"Certified Registered Nurse Anesthetist",
	"Child Neurology",
	"Colon & Rectal Surgery",
	"Dermatology",
	"Emergency Medicine",
	"Endocrinology",
	"Family Medicine",
	"Gastroenterology",
	"General Surgery",
	"Geriatrics",
	"Hematology",
	"Infectious Disease",
	"Internal Medicine",
	"Interventional Radiology",
	"Medical Genetics",
	"Medicine/Pediatrics",
	"Neonat/Perinatology",
	"Nephrology",
	"Neurology",
	"Neurosurgery",
	"Nuclear Medicine",
	"Obstetrics & Gynecology",
	"Occupational Medicine",
	"Oncology",
	"Ophthalmology",
	"Oral & Maxillofacial Surgery",
	"Orthopaedic Surgery",
	"Other MD/DO",
	"Otolaryngology (ENT)",
	"Pathology",
	"Pediatric (General) Surgery",
	"Pediatric Cardiology",
	"Pediatric Emergency Medicine",
	"Pediatric Endocrinology",
	"Pediatric Gastroenterology",
	"Pediatric Hematology & Oncology",
	"Pediatric Infectious Disease",
	"Pediatric Nephrology",
	"Pediatric Pulmonology",
	"Pediatric Rheumatology",
	"Pediatrics",
	"Physical Medicine/Rehab",
	"Plastic Surgery",
	"Preventive Medicine",
	"Psychiatry",
	"Pulmonology",
	"Radiation Oncology",
	"Radiology",
	"Research",
	"Resident Physician",
	"Rheumatology",
	"Thoracic Surgery",
	"Urology",
	"Vascular Surgery",
}

// KnowledgeCategories is the fixed labeling taxonomy for knowledge search.
var KnowledgeCategories = []string{
	"Cardiovascular",
	"Respiratory",
	"Gastrointestinal",
	"Endocrine",
	"Hematological",
	"Infectious",
	"Musculoskeletal",
	"Autoimmune",
	"Cancer",
	"Neurological",
}
