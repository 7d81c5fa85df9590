package repository

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"turing-game/internal/domain"
)

type surveyRecord struct {
	ID               string `dynamodbav:"id"`
	Timestamp        string `dynamodbav:"timestamp"`
	ChatroomID       string `dynamodbav:"chatroomId"`
	UserID           string `dynamodbav:"userId"`
	BotGuess         string `dynamodbav:"botGuess"`
	Reasoning        string `dynamodbav:"reasoning"`
	LLMKnowledge     string `dynamodbav:"llmKnowledge"`
	ChatbotFrequency string `dynamodbav:"chatbotFrequency"`
	Age              int    `dynamodbav:"age"`
	Education        string `dynamodbav:"education"`
	WasCorrect       bool   `dynamodbav:"wasCorrect"`
}

func (r surveyRecord) toDomain() (domain.SurveyResponse, error) {
	ts, err := parseTime(r.Timestamp)
	if err != nil {
		return domain.SurveyResponse{}, err
	}
	return domain.SurveyResponse{
		ID:               r.ID,
		SubmittedAt:      ts,
		ChatroomID:       r.ChatroomID,
		UserID:           r.UserID,
		BotGuess:         r.BotGuess,
		Reasoning:        r.Reasoning,
		LLMKnowledge:     r.LLMKnowledge,
		ChatbotFrequency: r.ChatbotFrequency,
		Age:              r.Age,
		Education:        r.Education,
		WasCorrect:       r.WasCorrect,
	}, nil
}

// PutSurvey stores a new survey response.
func (c *Client) PutSurvey(ctx context.Context, s domain.SurveyResponse) error {
	item, err := attributevalue.MarshalMap(surveyRecord{
		ID:               s.ID,
		Timestamp:        formatTime(s.SubmittedAt),
		ChatroomID:       s.ChatroomID,
		UserID:           s.UserID,
		BotGuess:         s.BotGuess,
		Reasoning:        s.Reasoning,
		LLMKnowledge:     s.LLMKnowledge,
		ChatbotFrequency: s.ChatbotFrequency,
		Age:              s.Age,
		Education:        s.Education,
		WasCorrect:       s.WasCorrect,
	})
	if err != nil {
		return fmt.Errorf("repository: PutSurvey marshal: %w", err)
	}
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tables.Surveys),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		return writeError("PutSurvey", err)
	}
	return nil
}

// QuerySurveys uses the education or llmKnowledge index when asked, otherwise scans.
func (c *Client) QuerySurveys(ctx context.Context, q domain.SurveyIndexQuery) ([]domain.SurveyResponse, error) {
	var items []map[string]types.AttributeValue
	switch {
	case q.Education != "":
		out, err := c.querySurveyIndex(ctx, educationIndex, "education", q.Education, q.Limit)
		if err != nil {
			return nil, err
		}
		items = out
	case q.LLMKnowledge != "":
		out, err := c.querySurveyIndex(ctx, llmKnowledgeIndex, "llmKnowledge", q.LLMKnowledge, q.Limit)
		if err != nil {
			return nil, err
		}
		items = out
	default:
		in := &dynamodb.ScanInput{TableName: aws.String(c.tables.Surveys)}
		if q.Limit > 0 {
			in.Limit = aws.Int32(int32(q.Limit))
		}
		out, err := c.api.Scan(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: QuerySurveys scan: %w", err)
		}
		items = out.Items
	}

	var recs []surveyRecord
	if err := attributevalue.UnmarshalListOfMaps(items, &recs); err != nil {
		return nil, fmt.Errorf("repository: QuerySurveys unmarshal: %w", err)
	}
	surveys := make([]domain.SurveyResponse, 0, len(recs))
	for _, rec := range recs {
		s, err := rec.toDomain()
		if err != nil {
			return nil, fmt.Errorf("repository: QuerySurveys decode: %w", err)
		}
		surveys = append(surveys, s)
	}
	return surveys, nil
}

func (c *Client) querySurveyIndex(ctx context.Context, index, attr, value string, limit int) ([]map[string]types.AttributeValue, error) {
	in := &dynamodb.QueryInput{
		TableName:                 aws.String(c.tables.Surveys),
		IndexName:                 aws.String(index),
		KeyConditionExpression:    aws.String("#k = :v"),
		ExpressionAttributeNames:  map[string]string{"#k": attr},
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": &types.AttributeValueMemberS{Value: value}},
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}
	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: QuerySurveys query %s: %w", index, err)
	}
	return out.Items, nil
}
