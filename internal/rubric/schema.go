package rubric

const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["dimensions"],
  "properties": {
    "name": {"type": "string"},
    "version": {"type": "string"},
    "dimensions": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {
        "type": "object",
        "required": ["weight", "max_score", "criteria"],
        "properties": {
          "weight": {"type": "number", "minimum": 0, "maximum": 1},
          "max_score": {"type": "number", "exclusiveMinimum": 0},
          "keywords": {"type": "array", "items": {"type": "string"}},
          "required_sections": {"type": "array", "items": {"type": "string"}},
          "criteria": {
            "type": "object",
            "minProperties": 1,
            "additionalProperties": {
              "type": "object",
              "required": ["weight"],
              "properties": {
                "weight": {"type": "number", "minimum": 0, "maximum": 1},
                "max_score": {"type": "number", "exclusiveMinimum": 0}
              }
            }
          }
        }
      }
    }
  }
}`
