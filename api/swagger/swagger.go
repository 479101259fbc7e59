package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Paws Academy Training API",
        "description": "Training program scheduling, enrollment and progression engine",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Course Types", "description": "Course catalog and prerequisite graph"},
        {"name": "Series", "description": "Scheduled course runs and their session calendars"},
        {"name": "Eligibility", "description": "Booking eligibility preview"},
        {"name": "Enrollments", "description": "Booking, waitlist, attendance and drops"},
        {"name": "Makeups", "description": "Makeup credits and makeup sessions"},
        {"name": "Progression", "description": "Certificates and course unlock state"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"},
                    "503": {"description": "Degraded"}
                }
            }
        },
        "/course-types": {
            "get": {
                "tags": ["Course Types"],
                "summary": "List course types",
                "parameters": [
                    {"name": "active", "in": "query", "type": "boolean"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"},
                    {"name": "sort", "in": "query", "type": "string"},
                    {"name": "order", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Course Types"],
                "summary": "Create course type",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateCourseTypeRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/course-types/{id}": {
            "get": {
                "tags": ["Course Types"],
                "summary": "Get course type",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Course Types"],
                "summary": "Deactivate course type",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/series": {
            "get": {
                "tags": ["Series"],
                "summary": "List series",
                "parameters": [
                    {"name": "courseTypeId", "in": "query", "type": "string"},
                    {"name": "instructorId", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Series"],
                "summary": "Schedule a series and generate its session calendar",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateSeriesRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/series/{id}": {
            "get": {
                "tags": ["Series"],
                "summary": "Get series",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/series/{id}/sessions": {
            "get": {
                "tags": ["Series"],
                "summary": "List a series' sessions",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/series/{id}/sessions/regenerate": {
            "post": {
                "tags": ["Series"],
                "summary": "Regenerate sessions; rejected once any session has started",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "A session has already started"}
                }
            }
        },
        "/series/{id}/status": {
            "patch": {
                "tags": ["Series"],
                "summary": "Advance the series lifecycle",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateSeriesStatusRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/series/{id}/roster.csv": {
            "get": {
                "tags": ["Series"],
                "summary": "Export the series roster as CSV",
                "produces": ["text/csv"],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "CSV payload"}
                }
            }
        },
        "/eligibility": {
            "get": {
                "tags": ["Eligibility"],
                "summary": "Preview eligibility for a pet and course type",
                "parameters": [
                    {"name": "petId", "in": "query", "required": true, "type": "string"},
                    {"name": "courseTypeId", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollments": {
            "get": {
                "tags": ["Enrollments"],
                "summary": "List enrollments",
                "parameters": [
                    {"name": "seriesId", "in": "query", "type": "string"},
                    {"name": "petId", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Enrollments"],
                "summary": "Book a pet into a series",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/BookRequest"}}
                ],
                "responses": {
                    "201": {"description": "Enrolled or waitlisted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Series full, waitlist disabled"},
                    "422": {"description": "Pet not eligible; issues in data"}
                }
            }
        },
        "/enrollments/{id}": {
            "get": {
                "tags": ["Enrollments"],
                "summary": "Get enrollment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollments/{id}/attendance": {
            "get": {
                "tags": ["Enrollments"],
                "summary": "List attendance records",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Enrollments"],
                "summary": "Record attendance for the current session",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RecordAttendanceRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Attendance already recorded for this session"}
                }
            }
        },
        "/enrollments/{id}/drop": {
            "post": {
                "tags": ["Enrollments"],
                "summary": "Drop an enrollment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollments/{id}/claim": {
            "post": {
                "tags": ["Enrollments"],
                "summary": "Claim an offered waitlist slot",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ClaimRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "410": {"description": "Offer expired"}
                }
            }
        },
        "/enrollments/{id}/makeup-credits": {
            "get": {
                "tags": ["Makeups"],
                "summary": "Get the enrollment's makeup credit ledger",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollments/{id}/makeups": {
            "get": {
                "tags": ["Makeups"],
                "summary": "List the enrollment's makeup sessions",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Makeups"],
                "summary": "Request a makeup session for a missed attendance",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RequestMakeupRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "No makeup credits available"}
                }
            }
        },
        "/makeups/{id}": {
            "get": {
                "tags": ["Makeups"],
                "summary": "Get makeup session",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/makeups/{id}/schedule": {
            "post": {
                "tags": ["Makeups"],
                "summary": "Schedule a pending makeup session",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ScheduleMakeupRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/makeups/{id}/complete": {
            "post": {
                "tags": ["Makeups"],
                "summary": "Complete a scheduled makeup session",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/makeups/{id}/cancel": {
            "post": {
                "tags": ["Makeups"],
                "summary": "Cancel an open makeup session; the credit is not refunded",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/pets/{id}/progression": {
            "get": {
                "tags": ["Progression"],
                "summary": "Get a pet's course progression",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/pets/{id}/certificates": {
            "get": {
                "tags": ["Progression"],
                "summary": "List a pet's certificates",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/certificates/{id}": {
            "get": {
                "tags": ["Progression"],
                "summary": "Get certificate",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/certificates/{id}/download-link": {
            "post": {
                "tags": ["Progression"],
                "summary": "Create a signed download link for the certificate PDF",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/certificates/download": {
            "get": {
                "tags": ["Progression"],
                "summary": "Download a certificate PDF with a signed token",
                "produces": ["application/pdf"],
                "parameters": [
                    {"name": "token", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "PDF payload"},
                    "410": {"description": "Token expired"}
                }
            }
        }
    },
    "definitions": {
        "CreateCourseTypeRequest": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "description": {"type": "string"},
                "min_age_weeks": {"type": "integer"},
                "max_age_weeks": {"type": "integer"},
                "required_vaccines": {"type": "array", "items": {"type": "string"}},
                "prerequisite_course_ids": {"type": "array", "items": {"type": "string"}},
                "default_weeks": {"type": "integer"}
            },
            "required": ["name", "min_age_weeks"]
        },
        "CreateSeriesRequest": {
            "type": "object",
            "properties": {
                "course_type_id": {"type": "string"},
                "name": {"type": "string"},
                "instructor_id": {"type": "string"},
                "start_date": {"type": "string"},
                "day_of_week": {"type": "integer"},
                "start_time": {"type": "string"},
                "number_of_weeks": {"type": "integer"},
                "max_capacity": {"type": "integer"},
                "deposit_cents": {"type": "integer"},
                "full_payment_cents": {"type": "integer"},
                "waitlist_enabled": {"type": "boolean"},
                "booking_opens_at": {"type": "string"},
                "booking_closes_at": {"type": "string"}
            },
            "required": ["course_type_id", "name", "start_date", "day_of_week", "max_capacity"]
        },
        "UpdateSeriesStatusRequest": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "enum": ["draft", "published", "in_progress", "completed", "cancelled"]}
            },
            "required": ["status"]
        },
        "BookRequest": {
            "type": "object",
            "properties": {
                "series_id": {"type": "string"},
                "pet_id": {"type": "string"}
            },
            "required": ["series_id", "pet_id"]
        },
        "RecordAttendanceRequest": {
            "type": "object",
            "properties": {
                "session_number": {"type": "integer"},
                "status": {"type": "string", "enum": ["present", "late", "absent", "excused"]}
            },
            "required": ["session_number", "status"]
        },
        "ClaimRequest": {
            "type": "object",
            "properties": {
                "token": {"type": "string"}
            },
            "required": ["token"]
        },
        "RequestMakeupRequest": {
            "type": "object",
            "properties": {
                "attendance_id": {"type": "string"}
            },
            "required": ["attendance_id"]
        },
        "ScheduleMakeupRequest": {
            "type": "object",
            "properties": {
                "date": {"type": "string"},
                "start_time": {"type": "string"},
                "trainer_id": {"type": "string"}
            },
            "required": ["date", "start_time", "trainer_id"]
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
